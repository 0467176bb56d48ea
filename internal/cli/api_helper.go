package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rescale/filez/internal/api"
	"github.com/rescale/filez/internal/clipboard"
	"github.com/rescale/filez/internal/config"
	"github.com/rescale/filez/internal/constants"
	"github.com/rescale/filez/internal/events"
)

// loadSettings reads the config file and applies environment variables,
// token sources and global flags on top. It does not validate.
func loadSettings() (*config.Config, error) {
	configPath := cfgFile
	if configPath == "" {
		configPath = config.GetDefaultConfigPath()
	}

	cfg, err := config.LoadConfigCSV(configPath)
	if err != nil {
		return nil, err
	}
	cfg.MergeWithFlagsAndTokenFile(token, tokenFile, baseURL, proxyMode, proxyHost, proxyPort)
	if rps >= 0 {
		cfg.RequestsPerSecond = rps
	}
	if verbose || debug {
		cfg.DetailedLogging = true
	}
	return cfg, nil
}

// loadConfig is loadSettings plus validation, for commands that talk to the server.
func loadConfig() (*config.Config, error) {
	cfg, err := loadSettings()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// getAPIClient loads configuration and creates an API client.
func getAPIClient() (*api.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	client, err := api.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create API client: %w", err)
	}

	return client, nil
}

// openClipboard opens the persistent clipboard, or an in-memory one when
// no clipboard path is configured. The returned close func is never nil.
func openClipboard(cfg *config.Config, bus *events.EventBus) (*clipboard.Clipboard, func(), error) {
	if cfg.ClipboardPath == "" {
		GetLogger().Warn().Msg("No clipboard path configured; the clipboard will not survive this command")
		return clipboard.New(clipboard.NewMemoryStore(), bus), func() {}, nil
	}
	if err := config.EnsureConfigDir(); err != nil {
		GetLogger().Debug().Err(err).Msg("Could not create config directory")
	}

	store, err := clipboard.NewBoltStore(cfg.ClipboardPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open clipboard: %w", err)
	}
	return clipboard.New(store, bus), func() { store.Close() }, nil
}

// newEventBus creates the bus the command's pipelines publish to and logs
// its events at debug level until the returned stop func is called.
func newEventBus() (*events.EventBus, func()) {
	bus := events.NewEventBus(constants.EventBusDefaultBuffer)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		GetLogger().Follow(ctx, bus)
	}()
	return bus, func() {
		cancel()
		<-done
		bus.Close()
	}
}

// describeError turns a request failure into the message shown to the user.
func describeError(err error) error {
	if err == nil {
		return nil
	}
	var se *api.StatusError
	if errors.As(err, &se) {
		msg := se.Kind.Message()
		if se.Kind.OffersReload() {
			msg += " Run the command again after refreshing your session token."
		}
		return fmt.Errorf("%s (%w)", msg, err)
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s", api.UserMessage(err))
	}
	return err
}

// refreshOnNotFound prints the current listing of dir when err says the
// entry is gone, so the user sees what is actually there.
func refreshOnNotFound(ctx context.Context, client *api.Client, dir string, out io.Writer, err error) {
	if !api.Classify(err).OffersRefresh() {
		return
	}
	listing, lerr := client.List(ctx, dir)
	if lerr != nil {
		return
	}
	fmt.Fprintf(out, "\nCurrent contents of %s:\n", api.CleanPath(dir))
	printListing(out, listing, false)
}
