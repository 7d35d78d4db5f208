// Package identity manages the local libp2p key pair and parses the public
// identity of the remote peer.
package identity

import (
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	ic "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/danmuck/peerchat/internal/transport"
)

var (
	ErrKeyExists      = errors.New("identity: key file already exists")
	ErrInvalidAddress = errors.New("identity: invalid peer address")
)

// Generate returns a fresh ed25519 identity.
func Generate() (ic.PrivKey, error) {
	priv, _, err := ic.GenerateEd25519Key(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate identity: %w", err)
	}
	return priv, nil
}

func Load(path string) (ic.PrivKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("identity load failed (%s): %w", path, err)
	}
	priv, err := ic.UnmarshalPrivateKey(raw)
	if err != nil {
		return nil, fmt.Errorf("identity parse failed (%s): %w", path, err)
	}
	return priv, nil
}

func Save(path string, priv ic.PrivKey, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%w: %s", ErrKeyExists, path)
		}
	}
	raw, err := ic.MarshalPrivateKey(priv)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	}
	return os.WriteFile(path, raw, 0o600)
}

// LoadOrGenerate loads the key at path, creating and saving a new one when
// the file does not exist. An empty path yields an ephemeral key.
func LoadOrGenerate(path string) (ic.PrivKey, bool, error) {
	if strings.TrimSpace(path) == "" {
		priv, err := Generate()
		return priv, true, err
	}
	priv, err := Load(path)
	if err == nil {
		return priv, false, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, false, err
	}
	priv, err = Generate()
	if err != nil {
		return nil, false, err
	}
	if err := Save(path, priv, false); err != nil {
		return nil, false, err
	}
	return priv, true, nil
}

// PeerID returns the public identity string other peers dial.
func PeerID(priv ic.PrivKey) (string, error) {
	id, err := peer.IDFromPrivateKey(priv)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// ParsePeerAddress accepts a bare peer id or a multiaddr ending in /p2p/<id>.
func ParsePeerAddress(raw string) (transport.PeerAddress, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return transport.PeerAddress{}, fmt.Errorf("%w: empty", ErrInvalidAddress)
	}
	if !strings.HasPrefix(raw, "/") {
		id, err := peer.Decode(raw)
		if err != nil {
			return transport.PeerAddress{}, fmt.Errorf("%w: %q: %v", ErrInvalidAddress, raw, err)
		}
		return transport.PeerAddress{ID: id.String()}, nil
	}
	m, err := ma.NewMultiaddr(raw)
	if err != nil {
		return transport.PeerAddress{}, fmt.Errorf("%w: %q: %v", ErrInvalidAddress, raw, err)
	}
	info, err := peer.AddrInfoFromP2pAddr(m)
	if err != nil {
		return transport.PeerAddress{}, fmt.Errorf("%w: %q: %v", ErrInvalidAddress, raw, err)
	}
	addr := transport.PeerAddress{ID: info.ID.String()}
	for _, a := range info.Addrs {
		addr.Addrs = append(addr.Addrs, a.String())
	}
	return addr, nil
}

// ParsePeerAddresses merges several textual addresses for the same peer.
func ParsePeerAddresses(peerID string, addrs []string) (transport.PeerAddress, error) {
	out := transport.PeerAddress{}
	if strings.TrimSpace(peerID) != "" {
		base, err := ParsePeerAddress(peerID)
		if err != nil {
			return transport.PeerAddress{}, err
		}
		out = base
	}
	for _, raw := range addrs {
		raw = strings.TrimSpace(raw)
		if out.ID != "" && strings.HasPrefix(raw, "/") && !strings.Contains(raw, "/p2p/") {
			// Transport-only address for the already named peer.
			m, err := ma.NewMultiaddr(raw)
			if err != nil {
				return transport.PeerAddress{}, fmt.Errorf("%w: %q: %v", ErrInvalidAddress, raw, err)
			}
			out.Addrs = append(out.Addrs, m.String())
			continue
		}
		a, err := ParsePeerAddress(raw)
		if err != nil {
			return transport.PeerAddress{}, err
		}
		if out.ID == "" {
			out.ID = a.ID
		}
		if a.ID != out.ID {
			return transport.PeerAddress{}, fmt.Errorf("%w: %q targets %s but expected %s", ErrInvalidAddress, raw, a.ID, out.ID)
		}
		out.Addrs = append(out.Addrs, a.Addrs...)
	}
	if out.ID == "" {
		return transport.PeerAddress{}, fmt.Errorf("%w: no peer id", ErrInvalidAddress)
	}
	return out, nil
}
