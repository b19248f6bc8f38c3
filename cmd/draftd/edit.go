package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/koinonia/draftsafe/draft"
	"github.com/koinonia/draftsafe/pkg/autosave"
	"github.com/koinonia/draftsafe/pkg/backup"
	"github.com/koinonia/draftsafe/pkg/passwd"
	"github.com/koinonia/draftsafe/pkg/recovery"
	"github.com/koinonia/draftsafe/pkg/remote"
	"github.com/spf13/cobra"
)

var (
	editUser     string
	editPassword string
	editServer   string
	editTitle    string
)

var editCmd = &cobra.Command{
	Use:   "edit [linked-post]",
	Short: "Write a draft from stdin with autosave",
	Long: `Each line read from stdin is appended to the draft's content and saved
in the background.  A line starting with ":title " replaces the title and
":q" ends the session.  Interrupting the editor saves what it has locally and
sends a last copy to the server.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runEdit,
}

func init() {
	f := editCmd.Flags()
	f.StringVarP(&editUser, "user", "u", os.Getenv("USER"), "draftd username")
	f.StringVar(&editPassword, "password", os.Getenv("DRAFTSAFE_PASSWORD"), "draftd password; prompted for when empty")
	f.StringVar(&editServer, "server", "", "draftd base url, overrides the config")
	f.StringVar(&editTitle, "title", "", "title for a new draft")
	rootCmd.AddCommand(editCmd)
}

// editor wires one autosave session to a line-oriented input stream.
type editor struct {
	form    *autosave.Form
	session *autosave.Session
	in      *bufio.Scanner
	out     io.Writer
}

func runEdit(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	var linkedPost string
	if len(args) == 1 {
		linkedPost = args[0]
	}

	serverURL := cfg.Autosave.ServerURL
	if len(editServer) > 0 {
		serverURL = editServer
	}
	client, err := remote.NewClient(serverURL)
	if err != nil {
		return err
	}
	client = client.WithLogger(log)

	password, err := readPassword()
	if err != nil {
		return err
	}
	online, err := login(ctx, client, password)
	if err != nil {
		return err
	}

	storage, err := backup.NewFileStorage(cfg.Autosave.BackupDir, cfg.Autosave.BackupQuota)
	if err != nil {
		return fmt.Errorf("opening backups: %w", err)
	}
	backups := backup.NewStore(storage).WithCap(cfg.Autosave.BackupCap).WithLogger(log)

	lifecycle := autosave.NewSignalLifecycle(log)
	defer lifecycle.Stop()
	beacon := remote.NewBeacon(client).WithTimeout(cfg.Autosave.Timeout.Std())

	form := autosave.NewForm(draft.NewPayload(editTitle, ""))
	session, err := autosave.Open(ctx, autosave.Options{
		OwnerID:    editUser,
		LinkedPost: linkedPost,
		Store:      client,
		Backup:     backups,
		Editor:     form,
		Lifecycle:  lifecycle,
		Beacon:     beacon,
		Debounce:   cfg.Autosave.Debounce.Std(),
		Timeout:    cfg.Autosave.Timeout.Std(),
		Logger:     &log,
	})
	if err != nil {
		return err
	}
	defer session.Close()

	ed := &editor{
		form:    form,
		session: session,
		in:      bufio.NewScanner(cmd.InOrStdin()),
		out:     cmd.OutOrStdout(),
	}
	errOut := cmd.ErrOrStderr()
	unsub := session.Subscribe(func(s autosave.Status) { fmt.Fprintf(errOut, "[%s]\n", s) })
	defer unsub()

	if !online {
		session.SetOnline(false)
	}
	probeCtx, stopProbe := context.WithCancel(ctx)
	defer stopProbe()
	prober := remote.NewProber(client, cfg.Autosave.ProbeInterval.Std(), online, session.SetOnline).
		WithReconnect(func(ctx context.Context) error {
			// the server may have restarted, or we never signed in
			return client.Login(ctx, editUser, password)
		})
	go prober.Run(probeCtx)

	if session.RecoveryPending() {
		keep, err := ed.resolve(ctx)
		if err != nil || !keep {
			return err
		}
	}

	torndown, err := ed.run(lifecycle.Done())
	if err != nil {
		return err
	}

	timeout := cfg.Autosave.Timeout.Std()
	if timeout <= 0 {
		timeout = remote.DefaultBeaconTimeout
	}
	flushCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if torndown {
		// teardown already kept a local copy and queued the beacon
		return beacon.Drain(flushCtx)
	}
	if err := session.Flush(flushCtx); err != nil {
		fmt.Fprintf(errOut, "not saved to the server, kept locally: %v\n", err)
	}
	if id, ok := session.DraftID(); ok {
		fmt.Fprintf(ed.out, "draft %s\n", id)
	}
	return beacon.Drain(flushCtx)
}

func readPassword() (string, error) {
	if len(editPassword) > 0 {
		return editPassword, nil
	}
	return passwd.Read("password: ")
}

// login signs in, and reports false if the server could not be reached.
func login(ctx context.Context, c *remote.Client, password string) (bool, error) {
	err := c.Login(ctx, editUser, password)
	switch {
	case err == nil:
		return true, nil
	case draft.IsTransient(err):
		log.Warn().Err(err).Msg("draftd unreachable, editing offline")
		return false, nil
	}
	return false, err
}

// resolve shows the earlier work and asks what to do with it.  It returns
// false if the session ended instead.
func (e *editor) resolve(ctx context.Context) (bool, error) {
	dec := e.session.Decision()
	fmt.Fprintf(e.out, "found a %s draft from %s:\n", dec.Source, dec.CapturedAt.Local().Format(time.DateTime))
	if len(dec.Diff) > 0 {
		fmt.Fprint(e.out, dec.Diff)
	}

	for {
		fmt.Fprint(e.out, "restore, discard or save for later? [r/d/l] ")
		if !e.in.Scan() {
			if err := e.in.Err(); err != nil {
				return false, err
			}
			// no answer keeps everything where it is
			return false, e.session.Resolve(ctx, recovery.SaveForLater)
		}
		r, err := recovery.ParseResolution(e.in.Text())
		if err != nil {
			fmt.Fprintln(e.out, err)
			continue
		}
		if err := e.session.Resolve(ctx, r); err != nil {
			return false, err
		}
		return r != recovery.SaveForLater, nil
	}
}

// apply handles one input line, and reports false when the author quits.
func (e *editor) apply(line string) bool {
	switch {
	case line == ":q":
		return false
	case strings.HasPrefix(line, ":title "):
		e.form.SetTitle(strings.TrimPrefix(line, ":title "))
	default:
		e.form.Update(func(p draft.Payload) {
			p[draft.FieldContent] = p.Content() + line + "\n"
		})
	}
	return true
}

// run feeds input lines to the form until input ends or the author quits.
// It reports true if the process was torn down first.
func (e *editor) run(teardown <-chan struct{}) (bool, error) {
	e.form.OnChange(func(p draft.Payload) {
		if err := e.session.Schedule(p); err != nil && !errors.Is(err, autosave.ErrClosed) {
			log.Error().Err(err).Msg("scheduling save")
		}
	})

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		for e.in.Scan() {
			select {
			case lines <- e.in.Text():
			case <-teardown:
				return
			}
		}
		scanErr <- e.in.Err()
	}()

	for {
		select {
		case <-teardown:
			return true, nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return false, err
				default:
					return false, nil
				}
			}
			if !e.apply(line) {
				return false, nil
			}
		}
	}
}
