package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"structcraft.ai/internal/config"
	"structcraft.ai/internal/persistence/indexdb"
	persistlog "structcraft.ai/internal/persistence/log"
	"structcraft.ai/internal/persistence/snapshot"
	"structcraft.ai/internal/sim/blocks"
	"structcraft.ai/internal/sim/hub"
	"structcraft.ai/internal/sim/structure/registry"
	"structcraft.ai/internal/sim/voxel"
	"structcraft.ai/internal/transport/httpapi"
	"structcraft.ai/internal/transport/ws"
)

func main() {
	var (
		cfgPath   = flag.String("config", "./configs/server.yaml", "server config path (missing file means defaults)")
		addr      = flag.String("addr", "", "http listen address (overrides listen_addr)")
		configDir = flag.String("configs", "", "config directory (overrides configs_dir)")
		dataDir   = flag.String("data", "", "runtime data directory (overrides data_dir)")
		snapPath  = flag.String("snapshot", "", "world snapshot path (overrides world_snapshot)")
		disableDB = flag.Bool("disable_db", false, "disable the sqlite index (structures, overlays, validations)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	path := strings.TrimSpace(*cfgPath)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		logger.Printf("config %s not found; using defaults", path)
		path = ""
	}
	cfg, err := config.Load(path)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if *configDir != "" {
		cfg.ConfigsDir = *configDir
		cfg.StructuresDir = ""
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
		cfg.WorldSnapshot, cfg.IndexDB, cfg.AuditDir = "", "", ""
	}
	if *addr != "" {
		cfg.ListenAddr = *addr
	}
	if *snapPath != "" {
		cfg.WorldSnapshot = *snapPath
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("config: %v", err)
	}
	_ = os.MkdirAll(cfg.DataDir, 0o755)
	_ = os.MkdirAll(filepath.Dir(cfg.IndexDB), 0o755)

	reg, err := blocks.Load(cfg.ConfigsDir)
	if err != nil {
		logger.Fatalf("load blocks: %v", err)
	}
	logger.Printf("blocks: %d blocks, %d tags, digest %s", len(reg.BlockIDs()), len(reg.TagIDs()), reg.BlocksDigest)

	idx, err := openIndex(cfg.IndexDB, *disableDB, logger)
	if err != nil {
		logger.Fatalf("open index: %v", err)
	}
	if idx != nil {
		defer idx.Close()
		if err := idx.UpsertCatalogs(reg); err != nil {
			logger.Printf("index: upsert catalogs: %v", err)
		}
	}

	world := voxel.NewSparse()
	if _, err := os.Stat(cfg.WorldSnapshot); err == nil {
		hdr, err := snapshot.Load(cfg.WorldSnapshot, world, reg)
		if err != nil {
			logger.Fatalf("load snapshot: %v", err)
		}
		if hdr.WorldID != "" && hdr.WorldID != cfg.WorldID {
			logger.Fatalf("snapshot world id mismatch: config=%s snap=%s", cfg.WorldID, hdr.WorldID)
		}
		if hdr.BlocksDigest != reg.BlocksDigest {
			logger.Printf("snapshot was written against a different block catalog (%s)", hdr.BlocksDigest)
		}
		logger.Printf("resumed world from %s: %d blocks", filepath.Base(cfg.WorldSnapshot), world.Len())
	}

	mirror, err := buildMirror(cfg.DataDir, logger)
	if err != nil {
		logger.Fatalf("backup: %v", err)
	}

	auditLog := persistlog.NewValidationLogger(cfg.AuditDir)
	defer auditLog.Close()
	if mirror != nil {
		auditLog.OnClose(mirror.Enqueue)
	}

	loader, err := registry.NewLoader(reg, cfg.DefaultNamespace, logger)
	if err != nil {
		logger.Fatalf("structure loader: %v", err)
	}
	opts := hub.Options{
		Loader:        loader,
		StructuresDir: cfg.StructuresDir,
		DecayTicks:    cfg.Overlay.DecayTicks,
		MaxOverlays:   cfg.Overlay.MaxPerSession,
		Sinks:         []hub.ValidationSink{auditLog},
		Logger:        logger,
	}
	apiOpts := httpapi.Options{
		Admin:   envBool("STRUCTCRAFT_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP()),
		WorldID: cfg.WorldID,
	}
	if mirror != nil {
		apiOpts.Backup = mirror
	}
	if idx != nil {
		opts.Store = idx
		opts.Index = idx
		opts.Sinks = append(opts.Sinks, idx)
		apiOpts.Index = idx
	}
	h := hub.New(reg, registry.New(), world, opts)
	if _, err := h.Reload(); err != nil {
		logger.Fatalf("load structures: %v", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	go h.Run(ctx, time.Duration(cfg.Overlay.ProgressIntervalMs)*time.Millisecond)
	go reloadOnHangup(ctx, h, logger)

	apiOpts.Stream = ws.NewServer(h, logger, ws.Options{
		ProgressIntervalMs: cfg.Overlay.ProgressIntervalMs,
		PreviewAlpha:       cfg.PreviewAlpha,
	})
	if !apiOpts.Admin {
		logger.Printf("admin endpoints disabled (STRUCTCRAFT_ENABLE_ADMIN_HTTP=false)")
	}
	srv := httpapi.NewServer(h, logger, apiOpts).Server(cfg.ListenAddr)

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s", cfg.ListenAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}

	if err := snapshot.Save(cfg.WorldSnapshot, cfg.WorldID, world, reg); err != nil {
		logger.Printf("snapshot write: %v", err)
	} else {
		logger.Printf("saved world to %s", cfg.WorldSnapshot)
		mirror.Enqueue(cfg.WorldSnapshot)
	}
	_ = auditLog.Close()
	mirror.Close()
	logIndexStats(idx, logger)
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

// reloadOnHangup reloads structure definitions on SIGHUP.
func reloadOnHangup(ctx context.Context, h *hub.Hub, logger *log.Logger) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGHUP)
	defer signal.Stop(ch)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ch:
			if _, err := h.Reload(); err != nil {
				logger.Printf("reload: %v", err)
			}
		}
	}
}

func logIndexStats(idx *indexdb.SQLiteIndex, logger *log.Logger) {
	if idx == nil {
		return
	}
	st := idx.Stats()
	if st.DropValidationTotal > 0 {
		logger.Printf("index dropped %d validation rows under load", st.DropValidationTotal)
	}
}
