package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/kwv/takeoff/takeoff"
)

// App encapsulates the application state and dependencies
type App struct {
	Config       *takeoff.Config
	Store        takeoff.Repository
	MQTTClient   *takeoff.MQTTClient
	Publisher    *takeoff.Publisher
	Pages        *takeoff.StaticPages
	Conditions   *takeoff.ConditionPicker
	Calibrations *takeoff.CalibrationStore
	Engine       *takeoff.Engine

	opts    AppOptions
	out     io.Writer
	closers []func() error
	changes atomic.Int64

	// connectMQTT is replaced in tests to avoid dialing a broker
	connectMQTT func(*takeoff.Config, takeoff.ChangeHandler) (*takeoff.MQTTClient, error)
}

// NewApp creates a new App instance writing its reports to out
func NewApp(out io.Writer) *App {
	return &App{
		out:         out,
		connectMQTT: takeoff.InitMQTT,
	}
}

// ApplyOptions applies CLI options to the App instance
func (a *App) ApplyOptions(opts AppOptions) {
	a.opts = opts
}

// loadConfig reads the config file. Only the default path may be missing.
func (a *App) loadConfig() (*takeoff.Config, error) {
	path := a.opts.ConfigFile
	if path == "" {
		path = defaultConfigFile
	}
	if _, err := os.Stat(path); os.IsNotExist(err) && path == defaultConfigFile {
		log.Printf("No %s found, using defaults", defaultConfigFile)
		return takeoff.DefaultConfig(), nil
	}
	config, err := takeoff.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	log.Printf("Loaded config from %s", path)
	return config, nil
}

// setup wires config, store, change feed and engine. It runs once per App.
func (a *App) setup(ctx context.Context, onChange takeoff.ChangeHandler) error {
	if a.Engine != nil {
		return nil
	}

	config, err := a.loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	a.Config = config

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}

	if a.opts.MQTTMode {
		client, err := a.connectMQTT(config, onChange)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		if client == nil {
			return errors.New("--mqtt needs mqtt.broker in the config or MQTT_BROKER")
		}
		a.MQTTClient = client
		a.closers = append(a.closers, func() error {
			client.Disconnect()
			return nil
		})
		a.Publisher = takeoff.NewPublisher(client.GetClient(), client.Prefix())
		store = takeoff.NewPublishingStore(store, a.Publisher)
		log.Printf("[MQTT] publishing changes under %s/", client.Prefix())
	}
	a.Store = store

	a.Calibrations = takeoff.NewCalibrationStore(config.Engine.DefaultUnit)
	if config.CalibrationCache != "" {
		if err := a.Calibrations.LoadCalibrations(config.CalibrationCache); err != nil {
			log.Printf("Warning: failed to load calibration cache %s: %v", config.CalibrationCache, err)
		} else {
			log.Printf("Loaded %d calibrations from %s", len(a.Calibrations.All()), config.CalibrationCache)
		}
	}

	a.Pages = config.StaticPages()
	a.Conditions = takeoff.NewConditionPicker(config.Conditions)
	a.Engine = takeoff.NewEngine(takeoff.EngineDeps{
		Pages:        a.Pages,
		Store:        a.Store,
		Conditions:   a.Conditions,
		Calibrations: a.Calibrations,
	}, config.EngineSettings())
	return nil
}

func (a *App) openStore(ctx context.Context) (takeoff.Repository, error) {
	sc := a.Config.Store
	if a.opts.StorePath != "" {
		sc = takeoff.StoreConfig{Driver: takeoff.StoreSQLite, Path: a.opts.StorePath}
	}

	if sc.Driver != takeoff.StoreSQLite {
		log.Println("Using in-memory store")
		return takeoff.NewMemoryStore(), nil
	}

	db, err := takeoff.OpenSQLite(sc.Path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", sc.Path, err)
	}
	store, err := takeoff.NewSQLiteStore(ctx, db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("opening %s: %w", sc.Path, err)
	}
	a.closers = append(a.closers, store.Close)
	log.Printf("Using SQLite store at %s", sc.Path)
	return store, nil
}

// Close releases the store and broker connection
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// replay runs a script against the engine, starting from what the store
// already holds for the script's sheet
func (a *App) replay(ctx context.Context, path string) (*takeoff.Script, error) {
	if err := a.setup(ctx, nil); err != nil {
		return nil, err
	}

	script, err := takeoff.LoadScript(path)
	if err != nil {
		return nil, err
	}
	if _, _, ok := a.Pages.PageSize(script.Page); !ok {
		return nil, fmt.Errorf("page %d has no size in the config: %w", script.Page, takeoff.ErrNoViewport)
	}

	a.Engine.SetPage(script.Ref())
	if err := a.Engine.Load(ctx, a.Store); err != nil {
		return nil, fmt.Errorf("loading %s/%s: %w", script.Project, script.Sheet, err)
	}

	r := &takeoff.Replayer{Engine: a.Engine, Pages: a.Pages, Conditions: a.Conditions}
	if err := r.Run(ctx, script); err != nil {
		return nil, fmt.Errorf("replaying %s: %w", path, err)
	}
	return script, nil
}

// RunReplay replays a script and prints the resulting takeoff
func (a *App) RunReplay(path string) error {
	defer a.Close()
	ctx := context.Background()

	script, err := a.replay(ctx, path)
	if err != nil {
		return err
	}

	ref := script.Ref()
	doc := a.Engine.Document()
	ms := doc.MeasurementsOnPage(ref)
	as := doc.AnnotationsOnPage(ref)

	fmt.Fprintf(a.out, "%s / %s, page %d\n", ref.ProjectID, ref.SheetID, ref.Page)
	fmt.Fprintln(a.out, "=====================")
	fmt.Fprintf(a.out, "Measurements: %d\n", len(ms))
	for _, m := range ms {
		name := m.ConditionName
		if name == "" {
			name = m.ConditionID
		}
		fmt.Fprintf(a.out, "  %-20s %-8s %s\n", name, m.Type, takeoff.MeasurementLabel(m))
	}
	fmt.Fprintf(a.out, "Annotations: %d\n", len(as))
	for _, an := range as {
		if an.Text != "" {
			fmt.Fprintf(a.out, "  %-20s %q\n", an.Type, an.Text)
			continue
		}
		fmt.Fprintf(a.out, "  %s\n", an.Type)
	}
	if a.Engine.History().CanUndo() {
		fmt.Fprintln(a.out, "Undo available")
	}
	return nil
}

// renderFormat resolves the --format flag, falling back to the output extension
func renderFormat(format, output string) (string, error) {
	if format == "" {
		switch strings.ToLower(filepath.Ext(output)) {
		case ".svg":
			format = "svg"
		case ".png":
			format = "png"
		default:
			return "", fmt.Errorf("cannot infer format from %q, use --format", output)
		}
	}
	switch format {
	case "svg", "png", "preview":
		return format, nil
	}
	return "", fmt.Errorf("unknown format %q (want svg, png or preview)", format)
}

// RunRender replays a script and draws the page overlay
func (a *App) RunRender(path string) error {
	defer a.Close()
	ctx := context.Background()

	format, err := renderFormat(a.opts.Format, a.opts.OutputFile)
	if err != nil {
		return err
	}

	script, err := a.replay(ctx, path)
	if err != nil {
		return err
	}

	ref := script.Ref()
	w, h, _ := a.Pages.PageSize(ref.Page)
	scale := a.opts.Scale
	if scale <= 0 {
		scale = 1
	}
	vp := takeoff.NewViewport(w, h, scale, takeoff.NormalizeRotation(a.opts.Rotation))
	doc := a.Engine.Document()
	ms := doc.MeasurementsOnPage(ref)
	as := doc.AnnotationsOnPage(ref)

	if format == "preview" {
		if err := takeoff.NewPreviewRenderer(vp, ms, as).SavePNG(a.opts.OutputFile); err != nil {
			return fmt.Errorf("rendering preview: %w", err)
		}
		fmt.Fprintf(a.out, "Saved preview to %s\n", a.opts.OutputFile)
		return nil
	}

	r := takeoff.NewVectorRenderer(vp, ms, as)
	for _, id := range a.opts.Selected {
		r.Selected[id] = true
	}

	f, err := os.Create(a.opts.OutputFile)
	if err != nil {
		return fmt.Errorf("creating %s: %w", a.opts.OutputFile, err)
	}
	defer f.Close()

	if format == "svg" {
		err = r.RenderToSVG(f)
	} else {
		err = r.RenderToPNG(f)
	}
	if err != nil {
		return fmt.Errorf("rendering %s: %w", format, err)
	}
	fmt.Fprintf(a.out, "Saved %s overlay (%.0fx%.0f) to %s\n", format, vp.Width, vp.Height, a.opts.OutputFile)
	return nil
}

// RunExport replays a script and writes the page as GeoJSON in page units
func (a *App) RunExport(path string) error {
	defer a.Close()
	ctx := context.Background()

	script, err := a.replay(ctx, path)
	if err != nil {
		return err
	}

	ref := script.Ref()
	w, h, _ := a.Pages.PageSize(ref.Page)
	doc := a.Engine.Document()
	data, err := takeoff.MarshalGeoJSON(doc.MeasurementsOnPage(ref), doc.AnnotationsOnPage(ref), w, h)
	if err != nil {
		return err
	}

	if a.opts.OutputFile == "" || a.opts.OutputFile == "-" {
		_, err = fmt.Fprintln(a.out, string(data))
		return err
	}
	if err := os.WriteFile(a.opts.OutputFile, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", a.opts.OutputFile, err)
	}
	fmt.Fprintf(a.out, "Saved GeoJSON to %s\n", a.opts.OutputFile)
	return nil
}

// onChange counts change events received from the feed
func (a *App) onChange(ev takeoff.ChangeEvent) {
	n := a.changes.Add(1)
	log.Printf("[MQTT] %s %s %s on %s/%s (%d received)", ev.Op, ev.Kind, ev.ID, ev.ProjectID, ev.SheetID, n)
}

// RunService serves the store over HTTP until interrupted
func (a *App) RunService() error {
	defer a.Close()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.setup(ctx, a.onChange); err != nil {
		return err
	}

	port := a.opts.HTTPPort
	if port == 0 {
		port = a.Config.HTTP.Port
	}
	addr := fmt.Sprintf("0.0.0.0:%d", port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	fmt.Fprintln(a.out, "\nService Running")
	fmt.Fprintln(a.out, "===============")
	fmt.Fprintf(a.out, "\nHTTP endpoints (port %d):\n", port)
	fmt.Fprintln(a.out, "  GET /health                    - Health check")
	fmt.Fprintln(a.out, "  GET /api/measurements?project= - Stored measurements")
	fmt.Fprintln(a.out, "  GET /api/annotations?project=  - Stored annotations")
	fmt.Fprintln(a.out, "  GET /overlay.svg               - Vector overlay for one page")
	fmt.Fprintln(a.out, "  GET /overlay.png               - Rasterized overlay for one page")
	fmt.Fprintln(a.out, "  GET /preview.png               - Labelled preview for one page")
	fmt.Fprintln(a.out, "  GET /export.geojson            - GeoJSON for one page")
	if a.MQTTClient != nil {
		fmt.Fprintf(a.out, "\nMQTT:\n  Following %s/+/+/events\n", a.MQTTClient.Prefix())
	}
	fmt.Fprintln(a.out, "\nPress Ctrl+C to stop")

	err = a.serve(ctx, ln)
	fmt.Fprintln(a.out, "Service stopped")
	return err
}

// serve runs the HTTP server on ln until ctx is done
func (a *App) serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           newHTTPServer(a.Store, a.Pages, a.changes.Load),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[HTTP] Starting server on %s", ln.Addr())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("HTTP server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP shutdown: %w", err)
	}
	log.Printf("[HTTP] Server stopped")
	return nil
}
