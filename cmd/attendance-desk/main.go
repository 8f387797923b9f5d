package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/jacksonlee411/college-attendance-desk/internal/attendance"
	"github.com/jacksonlee411/college-attendance-desk/internal/config"
	"github.com/jacksonlee411/college-attendance-desk/internal/portalapi"
	"github.com/jacksonlee411/college-attendance-desk/internal/session"
	"github.com/jacksonlee411/college-attendance-desk/pkg/authz"
	"github.com/jacksonlee411/college-attendance-desk/pkg/portalerr"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errSessionEnded = errors.New("session expired, please log in again")
	errNotLoggedIn  = errors.New("not logged in; run attendance-desk login first")
)

// app holds the wiring shared by every subcommand. Fields left nil are built
// from the loaded configuration.
type app struct {
	configPath string

	cfg     config.Config
	logger  *zap.Logger
	clock   clockwork.Clock
	monitor *session.Monitor
	client  *portalapi.Client
	authz   attendance.Authorizer

	in     io.Reader
	out    io.Writer
	errOut io.Writer

	// sessionEnded is set once a forced logout has been reported.
	sessionEnded atomic.Bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{in: os.Stdin, out: os.Stdout, errOut: os.Stderr}
	if err := newRootCmd(a).ExecuteContext(ctx); err != nil {
		a.reportError(err)
		os.Exit(1)
	}
}

func (a *app) reportError(err error) {
	if errors.Is(err, portalerr.ErrUnauthorized) && a.sessionEnded.Load() {
		return
	}
	fmt.Fprintln(a.errOut, errorText(err))
}

func errorText(err error) string {
	if portalerr.Known(err) {
		return portalerr.UserMessage(err)
	}
	return err.Error()
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "attendance-desk",
		Short:         "Record and review monthly class attendance against the college portal",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default "+config.DefaultPath()+")")

	root.AddCommand(
		newLoginCmd(a),
		newLogoutCmd(a),
		newWhoamiCmd(a),
		newShowCmd(a),
		newSetCmd(a),
		newBulkCmd(a),
		newEditCmd(a),
		newWorkingDaysCmd(a),
		newLowCmd(a),
	)
	return root
}

func (a *app) setup() error {
	if a.client != nil {
		return nil
	}
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg

	if a.logger == nil {
		logger, err := cfg.Log.NewLogger()
		if err != nil {
			return err
		}
		a.logger = logger
	}
	if a.clock == nil {
		a.clock = clockwork.NewRealClock()
	}

	a.monitor = session.NewMonitor(
		session.NewFileStore(cfg.Session.CredentialsPath),
		session.WithClock(a.clock),
		session.WithLogger(a.logger),
		session.WithInterval(cfg.Session.CheckInterval),
	)
	a.watchLogout()

	mode, err := authz.ParseMode(cfg.Authz.Mode)
	if err != nil {
		return err
	}
	var az *authz.Authorizer
	if cfg.Authz.ModelPath != "" {
		az, err = authz.NewAuthorizer(cfg.Authz.ModelPath, cfg.Authz.PolicyPath, mode)
	} else {
		az, err = authz.NewDefaultAuthorizer(mode)
	}
	if err != nil {
		return err
	}
	a.authz = az

	a.client = portalapi.NewClient(cfg.API.BaseURL, a.monitor, &http.Client{Timeout: cfg.API.Timeout}, a.logger)
	return nil
}

// watchLogout reports logouts the user did not ask for.
func (a *app) watchLogout() {
	a.monitor.OnLogout(func(reason session.LogoutReason) {
		if reason == session.LogoutRequested {
			return
		}
		if a.sessionEnded.CompareAndSwap(false, true) {
			fmt.Fprintln(a.errOut, errSessionEnded.Error())
		}
	})
}

func (a *app) newView(opts attendance.Options) (*attendance.View, error) {
	opts.Backend = a.client
	opts.Logger = a.logger
	opts.Clock = a.clock
	opts.Authorizer = a.authz
	opts.Role = a.monitor.Role
	opts.FilterDelay = a.cfg.Attendance.FilterDebounce
	opts.AutoSaveDelay = a.cfg.Attendance.AutoSaveDebounce
	opts.BatchSize = a.cfg.Attendance.BatchSize
	opts.ProgressTTL = a.cfg.Attendance.ProgressTTL
	return attendance.NewView(opts)
}

// requireSession fails early when there is no usable token.
func (a *app) requireSession() error {
	token, err := a.monitor.Token()
	if err != nil {
		return err
	}
	if token == "" {
		return errNotLoggedIn
	}
	return nil
}
