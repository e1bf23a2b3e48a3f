package provider

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/gagliardetto/solana-go/rpc"

	"solshuttle/internal/config"
	xerrors "solshuttle/internal/errors"
	"solshuttle/internal/web3"
	"solshuttle/internal/web3/solana"
)

// DefaultCluster is used when neither an RPC URL nor a cluster name is configured.
const DefaultCluster = "mainnet-beta"

var builtinClusters = map[string]web3.ClusterDefinition{
	"mainnet-beta": {RPCURL: rpc.MainNetBeta_RPC, Description: "Solana mainnet beta"},
	"devnet":       {RPCURL: rpc.DevNet_RPC, Description: "Solana devnet"},
	"testnet":      {RPCURL: rpc.TestNet_RPC, Description: "Solana testnet"},
	"localnet":     {RPCURL: rpc.LocalNet_RPC, Description: "local test validator"},
}

// Endpoint is a resolved RPC target.
type Endpoint struct {
	Name        string
	RPCURL      string
	Description string
}

// Registry maps cluster names to RPC endpoints, merging the builtin public
// clusters with definitions loaded from YAML.
type Registry struct {
	clusters map[string]web3.ClusterDefinition
}

// NewRegistry loads cluster definitions from path; file entries override builtins.
func NewRegistry(path string) (*Registry, error) {
	defs, err := web3.LoadClusterDefinitions(path)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConfig, err, "加载集群配置失败")
	}

	clusters := make(map[string]web3.ClusterDefinition, len(builtinClusters)+len(defs.Clusters))
	for name, def := range builtinClusters {
		clusters[name] = def
	}
	for name, def := range defs.Clusters {
		if strings.TrimSpace(def.RPCURL) == "" {
			return nil, xerrors.Config("集群 %s 未配置 rpc_url", name)
		}
		clusters[name] = def
	}
	return &Registry{clusters: clusters}, nil
}

// Resolve picks the endpoint for the given configuration. An explicit RPC URL
// always wins over the cluster name.
func (r *Registry) Resolve(cfg config.LedgerConfig) (Endpoint, error) {
	if r == nil {
		return Endpoint{}, errors.New("未初始化的集群注册表")
	}
	if url := strings.TrimSpace(cfg.RPCURL); url != "" {
		name := cfg.Cluster
		if name == "" {
			name = "custom"
		}
		return Endpoint{Name: name, RPCURL: url}, nil
	}

	name := strings.TrimSpace(cfg.Cluster)
	if name == "" {
		name = DefaultCluster
	}
	def, ok := r.clusters[name]
	if !ok {
		return Endpoint{}, xerrors.Config("未知的集群 %s，可选: %s", name, strings.Join(r.Clusters(), ", "))
	}
	return Endpoint{Name: name, RPCURL: def.RPCURL, Description: def.Description}, nil
}

// NewClient resolves the endpoint and constructs a Solana client for it.
func (r *Registry) NewClient(cfg config.LedgerConfig) (*solana.Client, Endpoint, error) {
	endpoint, err := r.Resolve(cfg)
	if err != nil {
		return nil, Endpoint{}, err
	}
	client, err := solana.NewClient(solana.Config{
		Name:         endpoint.Name,
		RPCURL:       endpoint.RPCURL,
		Commitment:   rpc.CommitmentType(cfg.Commitment),
		PollInterval: cfg.PollInterval(),
		AnchorTTL:    cfg.AnchorTTL(),
	})
	if err != nil {
		return nil, Endpoint{}, fmt.Errorf("初始化集群 %s 失败: %w", endpoint.Name, err)
	}
	return client, endpoint, nil
}

// Clusters returns the sorted list of known cluster names.
func (r *Registry) Clusters() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.clusters))
	for name := range r.clusters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
