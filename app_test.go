package main

import (
	"bytes"
	"context"
	"encoding/json"
	"image/png"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kwv/takeoff/takeoff"
)

const testConfig = `engine:
  historyLimit: 50
store:
  driver: memory
conditions:
  - {id: slab, name: Slab, type: area, color: "#43a047"}
  - {id: door, name: Door, type: count, color: "#fb8c00"}
pages:
  - {page: 1, width: 100, height: 80}
`

// testScript calibrates 50 px as 50 ft, draws a 100x80 slab, cuts a 50x50
// hole, places a door and adds a note
const testScript = `project: demo
sheet: A-101
steps:
  - mode: calibrate
    distance: 50
    unit: ft
  - click: {x: 0, y: 0}
  - click: {x: 50, y: 0}
  - mode: measure
    conditions: [slab]
  - drag: [{x: 0, y: 0}, {x: 100, y: 80}]
  - mode: cutout
    target: last
  - drag: [{x: 0, y: 0}, {x: 50, y: 50}]
  - mode: measure
    conditions: [door]
  - click: {x: 80, y: 70}
  - mode: annotate
    annotation: text
  - click: {x: 10, y: 70}
  - text: RFI 12
  - mode: stop
`

// writeFixtures writes the config and script into a temp dir
func writeFixtures(t *testing.T, config, script string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	scriptPath := filepath.Join(dir, "session.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(config), 0644))
	require.NoError(t, os.WriteFile(scriptPath, []byte(script), 0644))
	return configPath, scriptPath
}

// mockMQTT makes app connect to an in-memory broker
func mockMQTT(app *App) *takeoff.MockClient {
	mock := takeoff.NewMockClient()
	app.connectMQTT = func(_ *takeoff.Config, handler takeoff.ChangeHandler) (*takeoff.MQTTClient, error) {
		client := takeoff.NewMQTTClient(mock, "takeoff")
		client.SetChangeHandler(handler)
		mock.SetOnConnect(client.OnConnectHandler())
		mock.Connect()
		return client, nil
	}
	return mock
}

func TestApp_RunReplay(t *testing.T) {
	configPath, scriptPath := writeFixtures(t, testConfig, testScript)
	var out bytes.Buffer
	app := NewApp(&out)
	app.ApplyOptions(AppOptions{ConfigFile: configPath})

	require.NoError(t, app.RunReplay(scriptPath))

	report := out.String()
	assert.Contains(t, report, "demo / A-101, page 1")
	assert.Contains(t, report, "Measurements: 2")
	assert.Contains(t, report, "5500.00 ft²")
	assert.Contains(t, report, "Annotations: 1")
	assert.Contains(t, report, `"RFI 12"`)

	stored, err := app.Store.ListMeasurements(context.Background(), "demo", "A-101")
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

func TestApp_RunReplay_SQLiteAccumulates(t *testing.T) {
	configPath, scriptPath := writeFixtures(t, testConfig, testScript)
	dbPath := filepath.Join(t.TempDir(), "takeoff.db")

	for i := 0; i < 2; i++ {
		app := NewApp(&bytes.Buffer{})
		app.ApplyOptions(AppOptions{ConfigFile: configPath, StorePath: dbPath})
		require.NoError(t, app.RunReplay(scriptPath), "run %d", i+1)
	}

	db, err := takeoff.OpenSQLite(dbPath)
	require.NoError(t, err)
	store, err := takeoff.NewSQLiteStore(context.Background(), db)
	require.NoError(t, err)
	defer store.Close()

	ms, err := store.ListMeasurements(context.Background(), "demo", "A-101")
	require.NoError(t, err)
	assert.Len(t, ms, 4)
	as, err := store.ListAnnotations(context.Background(), "demo", "A-101")
	require.NoError(t, err)
	assert.Len(t, as, 2)
}

func TestApp_RunReplay_Errors(t *testing.T) {
	tests := []struct {
		name    string
		config  string
		script  string
		opts    func(configPath string) AppOptions
		wantErr string
	}{
		{
			name:    "MissingConfig",
			config:  testConfig,
			script:  testScript,
			opts:    func(string) AppOptions { return AppOptions{ConfigFile: "/nonexistent/site.yaml"} },
			wantErr: "config file not found",
		},
		{
			name:    "InvalidConfig",
			config:  "store:\n  driver: postgres\n",
			script:  testScript,
			opts:    func(p string) AppOptions { return AppOptions{ConfigFile: p} },
			wantErr: "store.driver",
		},
		{
			name:    "UnconfiguredPage",
			config:  testConfig,
			script:  "project: demo\nsheet: A-101\npage: 2\nsteps: []\n",
			opts:    func(p string) AppOptions { return AppOptions{ConfigFile: p} },
			wantErr: "no viewport",
		},
		{
			name:    "FailingStep",
			config:  testConfig,
			script:  "project: demo\nsheet: A-101\nsteps:\n  - undo: true\n",
			opts:    func(p string) AppOptions { return AppOptions{ConfigFile: p} },
			wantErr: "nothing to undo",
		},
		{
			name:    "MQTTWithoutBroker",
			config:  testConfig,
			script:  testScript,
			opts:    func(p string) AppOptions { return AppOptions{ConfigFile: p, MQTTMode: true} },
			wantErr: "MQTT_BROKER",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("MQTT_BROKER", "")
			configPath, scriptPath := writeFixtures(t, tt.config, tt.script)
			app := NewApp(&bytes.Buffer{})
			app.ApplyOptions(tt.opts(configPath))
			err := app.RunReplay(scriptPath)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestApp_DefaultConfigFallback(t *testing.T) {
	t.Chdir(t.TempDir())
	app := NewApp(&bytes.Buffer{})
	app.ApplyOptions(AppOptions{ConfigFile: defaultConfigFile})

	config, err := app.loadConfig()
	require.NoError(t, err)
	assert.Equal(t, takeoff.StoreMemory, config.Store.Driver)
	assert.Equal(t, takeoff.DefaultHTTPPort, config.HTTP.Port)
}

func TestApp_RunReplay_PublishesChanges(t *testing.T) {
	configPath, scriptPath := writeFixtures(t, testConfig, testScript)
	app := NewApp(&bytes.Buffer{})
	mock := mockMQTT(app)
	app.ApplyOptions(AppOptions{ConfigFile: configPath, MQTTMode: true})

	require.NoError(t, app.RunReplay(scriptPath))

	msgs := mock.GetPublishedMessages()
	require.GreaterOrEqual(t, len(msgs), 4, "slab, cutout update, door and note")
	for _, m := range msgs {
		assert.Equal(t, "takeoff/demo/A-101/events", m.Topic)
	}

	var first takeoff.ChangeEvent
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &first))
	assert.Equal(t, takeoff.OpCreate, first.Op)
	assert.Equal(t, takeoff.KindMeasurement, first.Kind)
	assert.False(t, mock.IsConnected(), "closing the app disconnects")
}

func TestRenderFormat(t *testing.T) {
	tests := []struct {
		format, output string
		want           string
		wantErr        bool
	}{
		{"", "overlay.svg", "svg", false},
		{"", "OUT.PNG", "png", false},
		{"preview", "out.png", "preview", false},
		{"png", "out.bin", "png", false},
		{"", "out.gif", "", true},
		{"pdf", "out.pdf", "", true},
	}
	for _, tt := range tests {
		got, err := renderFormat(tt.format, tt.output)
		if tt.wantErr {
			assert.Error(t, err, "%s/%s", tt.format, tt.output)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestApp_RunRender(t *testing.T) {
	configPath, scriptPath := writeFixtures(t, testConfig, testScript)
	dir := t.TempDir()

	t.Run("SVG", func(t *testing.T) {
		output := filepath.Join(dir, "overlay.svg")
		app := NewApp(&bytes.Buffer{})
		app.ApplyOptions(AppOptions{ConfigFile: configPath, OutputFile: output, Scale: 1})
		require.NoError(t, app.RunRender(scriptPath))

		data, err := os.ReadFile(output)
		require.NoError(t, err)
		assert.True(t, strings.Contains(string(data), "<svg"))
	})

	t.Run("RotatedPNG", func(t *testing.T) {
		output := filepath.Join(dir, "overlay.png")
		app := NewApp(&bytes.Buffer{})
		app.ApplyOptions(AppOptions{ConfigFile: configPath, OutputFile: output, Scale: 2, Rotation: 90, Selected: []string{"nope"}})
		require.NoError(t, app.RunRender(scriptPath))

		f, err := os.Open(output)
		require.NoError(t, err)
		defer f.Close()
		img, err := png.Decode(f)
		require.NoError(t, err)
		assert.Equal(t, 160, img.Bounds().Dx())
		assert.Equal(t, 200, img.Bounds().Dy())
	})

	t.Run("Preview", func(t *testing.T) {
		output := filepath.Join(dir, "preview.png")
		var out bytes.Buffer
		app := NewApp(&out)
		app.ApplyOptions(AppOptions{ConfigFile: configPath, OutputFile: output, Format: "preview", Scale: 1})
		require.NoError(t, app.RunRender(scriptPath))
		assert.Contains(t, out.String(), "Saved preview")

		f, err := os.Open(output)
		require.NoError(t, err)
		defer f.Close()
		cfg, err := png.DecodeConfig(f)
		require.NoError(t, err)
		assert.Equal(t, 100, cfg.Width)
		assert.Equal(t, 80, cfg.Height)
	})

	t.Run("BadFormat", func(t *testing.T) {
		app := NewApp(&bytes.Buffer{})
		app.ApplyOptions(AppOptions{ConfigFile: configPath, OutputFile: filepath.Join(dir, "x.gif")})
		assert.Error(t, app.RunRender(scriptPath))
		assert.Nil(t, app.Engine, "format is checked before replaying")
	})
}

func TestApp_RunExport(t *testing.T) {
	configPath, scriptPath := writeFixtures(t, testConfig, testScript)

	var out bytes.Buffer
	app := NewApp(&out)
	app.ApplyOptions(AppOptions{ConfigFile: configPath, OutputFile: "-"})
	require.NoError(t, app.RunExport(scriptPath))

	var fc struct {
		Type     string            `json:"type"`
		Features []json.RawMessage `json:"features"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &fc))
	assert.Equal(t, "FeatureCollection", fc.Type)
	assert.Len(t, fc.Features, 3)

	output := filepath.Join(t.TempDir(), "page.geojson")
	app = NewApp(&bytes.Buffer{})
	app.ApplyOptions(AppOptions{ConfigFile: configPath, OutputFile: output})
	require.NoError(t, app.RunExport(scriptPath))
	data, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Contains(t, string(data), "FeatureCollection")
}

func TestApp_Serve(t *testing.T) {
	configPath, _ := writeFixtures(t, testConfig, testScript)
	app := NewApp(&bytes.Buffer{})
	mock := mockMQTT(app)
	app.ApplyOptions(AppOptions{ConfigFile: configPath, MQTTMode: true})
	defer app.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, app.setup(ctx, app.onChange))

	// another engine announces a change on the feed
	pub := takeoff.NewPublisher(mock, "takeoff")
	require.NoError(t, pub.Publish(takeoff.ChangeEvent{Op: takeoff.OpCreate, Kind: takeoff.KindMeasurement, ID: "m1", ProjectID: "demo", SheetID: "A-101"}))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	done := make(chan error, 1)
	go func() { done <- app.serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/health")
	require.NoError(t, err)
	var health struct {
		Status  string `json:"status"`
		Changes int64  `json:"changes"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	resp.Body.Close()
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, int64(1), health.Changes)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
