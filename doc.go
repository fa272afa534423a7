// Package shinkainode implements a peer-to-peer personal-AI node's
// subscription-and-synchronization subsystem: a streamer node publishes
// a folder tree of documents, and subscriber nodes pull it incrementally
// either through direct node-to-node messaging over the relay or through
// an object-store-backed HTTP fan-out.
//
// The node is assembled from seven components, each its own package:
//
//   - identity: resolves node names to public keys and addresses through
//     an on-chain registry (C1).
//   - store: the append-only message log and per-inbox DAG backing
//     subscription control traffic (C2).
//   - relay: the length-prefixed TCP server that authenticates clients
//     by ed25519 challenge/response and forwards frames between them (C3).
//   - subscription: the subscription lifecycle state machine and its
//     periodic folder-tree sync loop (C4).
//   - tree: the in-memory, copy-on-write Folder Tree Index (C5).
//   - upload: the HTTP Upload Manager that reconciles a folder's object
//     store state against its Folder Tree Index (C6).
//   - objectstore: the S3-compatible object store driver (C7).
//
// Use config.Load to build an Options from the environment, then New to
// construct a Node from it.
package shinkainode
