package provider

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"sort"
	"strings"

	"AAFuel/internal/chain"
	"AAFuel/internal/chain/ethereum"

	"github.com/ethereum/go-ethereum/common"
)

// Endpoint bundles the node client and relay adapter of one network.
type Endpoint struct {
	Name       string
	Client     *ethereum.Client
	Bundler    *ethereum.Bundler
	EntryPoint common.Address
	Factory    common.Address
}

// Registry manages the configured networks keyed by human readable names.
// The active network is always selected explicitly, never inferred.
type Registry struct {
	endpoints map[string]*Endpoint
}

// NewRegistry loads network definitions and dials every configured network.
// The funding signer key is bound to each network's client.
func NewRegistry(ctx context.Context, defsPath string, signer *ecdsa.PrivateKey) (*Registry, error) {
	defs, err := chain.LoadNetworkDefinitions(defsPath)
	if err != nil {
		return nil, err
	}

	endpoints := make(map[string]*Endpoint, len(defs.Networks))
	for name, def := range defs.Networks {
		client, err := ethereum.NewClient(ctx, ethereum.Config{
			Name:      name,
			RPCURL:    def.RPCURL,
			SignerKey: signer,
		})
		if err != nil {
			return nil, fmt.Errorf("network %s: %w", name, err)
		}

		relayURL := strings.TrimSpace(def.RelayURL)
		if relayURL == "" {
			relayURL = def.RPCURL
		}
		entryPoint := common.HexToAddress(def.EntryPoint)
		bundler, err := ethereum.NewBundler(ctx, relayURL, entryPoint)
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("network %s relay: %w", name, err)
		}

		endpoints[name] = &Endpoint{
			Name:       name,
			Client:     client,
			Bundler:    bundler,
			EntryPoint: entryPoint,
			Factory:    common.HexToAddress(def.Factory),
		}
	}

	return &Registry{endpoints: endpoints}, nil
}

// Endpoint returns the named network.
func (r *Registry) Endpoint(name string) (*Endpoint, error) {
	ep, ok := r.endpoints[strings.TrimSpace(name)]
	if !ok {
		return nil, fmt.Errorf("network %q is not configured (known: %s)", name, strings.Join(r.Names(), ", "))
	}
	return ep, nil
}

// Names lists the configured network names in stable order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.endpoints))
	for name := range r.endpoints {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close releases all network connections.
func (r *Registry) Close() {
	for _, ep := range r.endpoints {
		if ep.Client != nil {
			ep.Client.Close()
		}
		if ep.Bundler != nil {
			ep.Bundler.Close()
		}
	}
}
