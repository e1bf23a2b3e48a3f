// Package web3 defines the ledger-facing domain types shared by the transfer
// agent: wallet identities, anchors (recent blockhashes), signed transfers and
// submission receipts, plus the Client contract implemented per network.
// Cluster endpoint definitions can be loaded from YAML.
package web3
