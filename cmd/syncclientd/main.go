// Command syncclientd is a development harness that wires the Reconnect/Backoff Controller,
// Connection, Session, and Session Manager together against a real server
// endpoint. It is not a general-purpose CLI (query-language input, multi-database fleets, and
// a production keychain integration are out of scope); it exists to drive the engine
// end-to-end by hand while developing it.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/google/uuid"

	syncclient "github.com/latticesync/syncclient"
	"github.com/latticesync/syncclient/internal/metadatastore"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (defaults built in if empty)")
	host := flag.String("host", "127.0.0.1", "sync server host")
	port := flag.Int("port", 9443, "sync server port")
	tls := flag.Bool("tls", true, "connect over wss instead of ws")
	dbPath := flag.String("db", "./syncclient.realm", "local database path")
	metadataPath := flag.String("metadata", "./syncclient-metadata.db", "metadata store path (\":memory:\" for none)")
	flx := flag.Bool("flx", true, "use flexible sync instead of partition sync")
	partitionKey := flag.String("partition", "", "partition key, when -flx=false")
	accessToken := flag.String("token", "", "access token to bind with")
	flag.Parse()

	config := syncclient.DefaultConfig()
	if *configPath != "" {
		loaded, err := syncclient.Load(*configPath)
		if err != nil {
			glog.Fatalf("load config: %s", err)
		}
		config = loaded
	}

	store, err := metadatastore.Open(*metadataPath, nil)
	if err != nil {
		glog.Fatalf("open metadata store: %s", err)
	}
	defer store.Close()

	manager := syncclient.NewSessionManager(config, store)

	if err := manager.DrainPendingFileActions(func(path string, action metadatastore.FileAction) error {
		glog.Infof("[syncclientd]applying pending file action %s on %s", action, path)
		switch action {
		case metadatastore.ActionDelete, metadatastore.ActionBackupThenDelete:
			return os.RemoveAll(path)
		}
		return nil
	}); err != nil {
		glog.Warningf("drain pending file actions: %s", err)
	}

	envelope := syncclient.EnvelopePlainWs
	if *tls {
		envelope = syncclient.EnvelopeTlsWs
	}
	endpoint := syncclient.ServerEndpoint{Envelope: envelope, Host: *host, Port: *port}

	identity := uuid.New()
	sessionConfig := syncclient.SessionConfig{
		Path:         *dbPath,
		IsFlx:        *flx,
		PartitionKey: *partitionKey,
		StopPolicy:   syncclient.StopLiveIndefinitely,
		ResyncMode:   syncclient.ResyncRecoverOrDiscard,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wrapper, err := manager.GetSession(ctx, identity, *accessToken, endpoint, sessionConfig, syncclient.NewMemHistory())
	if err != nil {
		glog.Fatalf("get session: %s", err)
	}

	wrapper.OnChangesetsIntegrated(func(version syncclient.ClientVersion, progress syncclient.SyncProgress) {
		glog.Infof("[syncclientd]integrated up to client version %d (server version %d)", version, progress.DownloadServerVersion)
	})
	wrapper.OnFatalError(func(err *syncclient.ProtocolError) {
		glog.Errorf("[syncclientd]fatal: %s", err)
	})
	wrapper.OnClientResetRequired(func(action syncclient.ErrorAction) {
		glog.Warningf("[syncclientd]client reset required (action=%d); run the reset coordinator out of band", action)
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		glog.Infof("[syncclientd]shutting down")
	case <-time.After(24 * time.Hour):
	}

	wrapper.Close()
	cancel()
}
