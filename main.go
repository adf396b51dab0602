package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"devicelink/adb"
	"devicelink/api"
	"devicelink/config"
	"devicelink/service"
	"devicelink/storage"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:          "devicelink",
	Short:        "Manage Android devices over adb and mirror them with scrcpy",
	SilenceUsage: true,
	RunE:         runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the device registry, screenshot refresher and HTTP API (default)",
	RunE:  runServe,
}

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List the devices adb can see right now",
	RunE:  runDevices,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configFile, "config", "c", "", "config file (default ./config.yaml)")
	flags.String("addr", "", "HTTP listen address (default :8080)")
	flags.String("adb", "", "path to the adb binary")
	flags.String("scrcpy", "", "path to the scrcpy binary")
	flags.String("db", "", "path to the SQLite database")

	rootCmd.AddCommand(serveCmd, devicesCmd)
}

// setupLogging creates a log file in logDir with a timestamped name.
// Returns the log file handle (caller should defer Close()).
func setupLogging(logDir string) (*os.File, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	// log/2025-12-08_21-52-35.log
	timestamp := time.Now().Format("2006-01-02_15-04-05")
	logPath := filepath.Join(logDir, timestamp+".log")

	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	log.SetOutput(io.MultiWriter(os.Stdout, logFile))
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	log.Printf("📝 Logging to: %s", logPath)
	return logFile, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return err
	}

	if cfg.Log.Dir != "" {
		logFile, err := setupLogging(cfg.Log.Dir)
		if err != nil {
			log.Printf("Warning: Failed to setup file logging: %v", err)
		} else {
			defer logFile.Close()
		}
	}

	log.Println("Starting devicelink...")

	db, err := config.InitDatabase(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	settings := cfg.Settings()
	adbClient := adb.NewADBClient(cfg.ADB.Path)

	runtime := service.NewRuntimeRegistry(func() string {
		return settings.Get("Device.previewImage", "yes")
	})
	devices := service.NewDeviceManager(storage.NewKV(db), adbClient, runtime)
	devices.SetStartDelay(cfg.Registry.StartDelay)
	devices.AddTask(service.NewDeviceWatcher(devices, adbClient).Run)
	devices.AddTask(service.NewScreenshotRefresher(devices, adbClient, cfg.Screenshot.Interval).Run)

	wsHub := api.NewWebSocketHub(devices.Records)
	devices.OnChange(func() {
		wsHub.PushDevices(devices.Records())
	})

	launcher := service.NewScrcpyLauncher(cfg.Scrcpy.Path, cfg.ADB.Path)
	mirror := service.NewMirrorService(devices, service.NewSettingResolver(settings), launcher, wsHub)
	mirror.SetDelays(cfg.Mirror.SuccessDelay, cfg.Mirror.SettleDelay)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go wsHub.Run(ctx)

	if err := devices.Init(ctx); err != nil {
		return err
	}
	defer devices.Dispose()
	defer mirror.StopAll()

	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()
	api.SetupRoutes(router, api.NewHandlers(devices, mirror, settings), wsHub)

	server := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Server starting on http://%s", cfg.Server.Addr)
		log.Printf("WebSocket server on ws://%s/ws", cfg.Server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	log.Println("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}
	log.Println("Server exited")
	return nil
}

func runDevices(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	live, err := adb.NewADBClient(cfg.ADB.Path).ListDevices(ctx)
	if err != nil {
		return err
	}
	if len(live) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No devices connected")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tNAME")
	for _, d := range live {
		fmt.Fprintf(w, "%s\t%s\t%s\n", d.ID, adb.DeviceTypeOf(d.ID), adb.DeviceName(d))
	}
	return w.Flush()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
