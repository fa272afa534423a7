// Package shinkainode wires together the subscription-and-synchronization
// subsystem's seven components into a single runnable node: the identity
// registry client (C1), message store (C2), relay (C3), subscription
// controller (C4), folder tree index (C5), HTTP upload manager (C6), and
// object store driver (C7).
package shinkainode

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/shinkai-node/config"
	"github.com/opd-ai/shinkai-node/identity"
	"github.com/opd-ai/shinkai-node/objectstore"
	"github.com/opd-ai/shinkai-node/relay"
	"github.com/opd-ai/shinkai-node/store"
	"github.com/opd-ai/shinkai-node/subscription"
	"github.com/opd-ai/shinkai-node/tree"
	"github.com/opd-ai/shinkai-node/upload"
)

// Node is one running instance of the subsystem: the identity client,
// message store, relay listener, subscription controller, and upload
// manager, plus the per-folder tree indexes they share.
type Node struct {
	options *config.Options

	Identity     *identity.Client
	Messages     *store.Store
	Subscription *subscription.Controller
	Upload       *upload.Manager
	Relay        *relay.Server

	foldersMu sync.RWMutex
	folders   map[string]*tree.Tree

	ctx    context.Context
	cancel context.CancelFunc
}

// relayAddr is the address the relay listens on; not exposed in
// config.Options because every deployment in scope runs it locally
// alongside the rest of the node.
const relayAddr = "0.0.0.0:4001"

// New constructs every component from options and returns a Node ready
// for Start. Component construction order mirrors "initialize once
// at startup, shut down in reverse dependency order" design note:
// identity first (everything else resolves through it), then storage,
// then the network-facing relay and upload manager last.
func New(options *config.Options) (*Node, error) {
	logger := logrus.WithFields(logrus.Fields{
		"function": "New",
		"package":  "shinkainode",
	})
	logger.Info("constructing node")

	idClient, err := identity.New(identity.Config{
		RPCURL:          options.RPCURL,
		ContractAddress: options.ContractAddress,
	})
	if err != nil {
		return nil, fmt.Errorf("shinkainode.New: identity client: %w", err)
	}

	msgStore, err := store.Open(filepath.Join(options.DataDir, "messages.db"))
	if err != nil {
		return nil, fmt.Errorf("shinkainode.New: message store: %w", err)
	}

	subCtl, err := subscription.Open(filepath.Join(options.DataDir, "subscriptions.db"))
	if err != nil {
		msgStore.Close()
		return nil, fmt.Errorf("shinkainode.New: subscription controller: %w", err)
	}

	var driver objectstore.Driver
	if options.AWSAccessKeyID != "" {
		driver, err = objectstore.NewMinioDriver(objectstore.Credentials{
			Source:          objectstore.SourceR2,
			AccessKeyID:     options.AWSAccessKeyID,
			SecretAccessKey: options.AWSSecretAccessKey,
			EndpointURI:     options.AWSURL,
			Bucket:          "shinkai-streamer",
		})
		if err != nil {
			subCtl.Close()
			msgStore.Close()
			return nil, fmt.Errorf("shinkainode.New: object store driver: %w", err)
		}
	} else {
		driver = objectstore.NewMemoryDriver()
	}
	uploadMgr := upload.NewManager(driver, options.UploadParallelism)

	relaySrv, err := relay.Listen(relayAddr, idClient, relay.Options{})
	if err != nil {
		subCtl.Close()
		msgStore.Close()
		return nil, fmt.Errorf("shinkainode.New: relay listener: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	node := &Node{
		options:      options,
		Identity:     idClient,
		Messages:     msgStore,
		Subscription: subCtl,
		Upload:       uploadMgr,
		Relay:        relaySrv,
		folders:      make(map[string]*tree.Tree),
		ctx:          ctx,
		cancel:       cancel,
	}

	subCtl.SetSyncDependencies(&nodeTreeFetcher{node: node}, msgStore)

	logger.Info("node constructed")
	return node, nil
}

// nodeTreeFetcher adapts a Node's in-process folder trees to
// subscription.TreeFetcher, the form used by locally hosted shared
// folders (subscriber and streamer sharing one process).
type nodeTreeFetcher struct {
	node *Node
}

func (f *nodeTreeFetcher) Snapshot(originNode, sharedFolder string) ([]tree.FileEntry, error) {
	return f.node.Folder(sharedFolder).Snapshot("").List(), nil
}

// diskFileReader reads a shared folder's file bytes from local disk,
// rooted at that folder's directory, since the Folder Tree Index tracks
// only metadata.
type diskFileReader struct {
	root string
}

func (r *diskFileReader) ReadFile(relPath string) ([]byte, error) {
	safe := filepath.Clean(string(filepath.Separator) + relPath)
	return os.ReadFile(filepath.Join(r.root, safe))
}

// folderSources snapshots every known shared folder for the upload
// manager's TickLoop.
func (n *Node) folderSources() map[string]upload.FolderSource {
	n.foldersMu.RLock()
	defer n.foldersMu.RUnlock()

	sources := make(map[string]upload.FolderSource, len(n.folders))
	for key, t := range n.folders {
		sources[key] = upload.FolderSource{
			Prefix:   key,
			Snapshot: t.Snapshot(""),
			Reader:   &diskFileReader{root: filepath.Join(n.options.DataDir, "folders", key)},
		}
	}
	return sources
}

// Folder returns the Folder Tree Index for sharedFolder, creating an
// empty one on first use.
func (n *Node) Folder(sharedFolder string) *tree.Tree {
	n.foldersMu.Lock()
	defer n.foldersMu.Unlock()
	t, ok := n.folders[sharedFolder]
	if !ok {
		t = tree.New()
		n.folders[sharedFolder] = t
	}
	return t
}

// Start launches the relay accept loop and the subscription sync loop.
// It does not block.
func (n *Node) Start() {
	logger := logrus.WithFields(logrus.Fields{
		"function": "Start",
		"package":  "shinkainode",
	})

	go n.Relay.Serve()

	interval := n.options.UploadInterval
	if interval <= 0 {
		interval = config.DefaultUploadIntervalMinutes * time.Minute
	}
	n.Subscription.Start(interval)
	go n.Upload.TickLoop(n.ctx, interval, n.folderSources)

	logger.WithFields(logrus.Fields{
		"relay_addr":      n.Relay.Addr().String(),
		"upload_interval": interval.String(),
	}).Info("node started")
}

// Close shuts down the node's components in reverse dependency order:
// relay (network-facing) and subscription sync loop first, then the
// persistent stores.
func (n *Node) Close() error {
	n.cancel()

	if err := n.Relay.Close(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Close",
			"package":  "shinkainode",
			"error":    err.Error(),
		}).Warn("relay close error")
	}

	n.Subscription.Stop()

	var firstErr error
	if err := n.Subscription.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := n.Messages.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
