// Package network builds the libp2p host modhostd announces itself on,
// reusing the same identity across restarts instead of taking a new random
// peer ID every run.
package network

import (
	"encoding/json"
	"fmt"
	"os"

	libp2p "github.com/libp2p/go-libp2p"
	crypto "github.com/libp2p/go-libp2p/core/crypto"
	libp2p_host "github.com/libp2p/go-libp2p/core/host"
	peer "github.com/libp2p/go-libp2p/core/peer"
)

// persistentIdentity is the on-disk form of a node's libp2p keypair.
type persistentIdentity struct {
	PrivKey []byte `json:"priv_key"`
	PeerID  string `json:"peer_id"`
}

// NewPersistentHost builds a libp2p host whose private key is loaded from
// identityPath if present, or generated and saved there otherwise. An empty
// identityPath generates a fresh, unsaved identity every call (useful for
// tests and throwaway nodes).
func NewPersistentHost(identityPath string) (libp2p_host.Host, error) {
	priv, err := loadOrCreateKey(identityPath)
	if err != nil {
		return nil, fmt.Errorf("network: load identity: %w", err)
	}
	host, err := libp2p.New(libp2p.Identity(priv))
	if err != nil {
		return nil, fmt.Errorf("network: start libp2p host: %w", err)
	}
	return host, nil
}

func loadOrCreateKey(identityPath string) (crypto.PrivKey, error) {
	if identityPath != "" {
		if data, err := os.ReadFile(identityPath); err == nil {
			var id persistentIdentity
			if err := json.Unmarshal(data, &id); err != nil {
				return nil, fmt.Errorf("unmarshal %s: %w", identityPath, err)
			}
			priv, err := crypto.UnmarshalPrivateKey(id.PrivKey)
			if err != nil {
				return nil, fmt.Errorf("unmarshal private key from %s: %w", identityPath, err)
			}
			return priv, nil
		}
	}

	priv, _, err := crypto.GenerateEd25519Key(nil)
	if err != nil {
		return nil, fmt.Errorf("generate identity: %w", err)
	}
	if identityPath == "" {
		return priv, nil
	}

	pid, err := peer.IDFromPrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("derive peer id: %w", err)
	}
	privBytes, err := crypto.MarshalPrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("marshal private key: %w", err)
	}
	data, err := json.Marshal(persistentIdentity{PrivKey: privBytes, PeerID: pid.String()})
	if err != nil {
		return nil, fmt.Errorf("marshal identity: %w", err)
	}
	if err := os.WriteFile(identityPath, data, 0o600); err != nil {
		return nil, fmt.Errorf("write %s: %w", identityPath, err)
	}
	return priv, nil
}
