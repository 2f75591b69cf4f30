package main

import (
	"bufio"
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/lotas/perfdebug/internal/applog"
	"github.com/lotas/perfdebug/internal/badge"
	"github.com/lotas/perfdebug/internal/cdp"
	"github.com/lotas/perfdebug/internal/config"
	"github.com/lotas/perfdebug/internal/export"
	"github.com/lotas/perfdebug/internal/history"
	"github.com/lotas/perfdebug/internal/host"
	"github.com/lotas/perfdebug/internal/params"
	"github.com/lotas/perfdebug/internal/probe"
	"github.com/lotas/perfdebug/internal/render"
	"github.com/lotas/perfdebug/internal/server"
	"github.com/lotas/perfdebug/internal/service"
	"github.com/lotas/perfdebug/internal/storage"
	"github.com/lotas/perfdebug/internal/toggle"
	"github.com/lotas/perfdebug/internal/tui"
	"github.com/lotas/perfdebug/internal/window"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "serve":
			runServe(os.Args[2:])
			return
		case "inspect":
			runInspect(os.Args[2:])
			return
		case "probe":
			runProbe(os.Args[2:])
			return
		case "history":
			runHistory(os.Args[2:])
			return
		case "state":
			runState(os.Args[2:])
			return
		case "help", "--help", "-h":
			printHelp()
			return
		}
	}
	runServe(os.Args[1:])
}

func printHelp() {
	fmt.Print(`perfdebug: page performance debugger companion

Usage:
  perfdebug [serve]                                   Start the extension bridge and TUI (default)
    --config <file>        Config file (default: ~/.config/perfdebug/config.yaml)
    --port <n>             WebSocket port (default: 19192)
    --db <file>            Database path (default: ~/.local/share/perfdebug/perfdebug.db)
    --log-dir <dir>        Log directory
    --no-tui               Run headless until interrupted
    --verbose              Log every extension message

  perfdebug inspect <url>                             Analyze a page in headless Chrome
    --params <list>        Debug parameters to apply, comma separated (e.g. perfmattersoff,nocache)
    --json                 Output JSON instead of markdown
    --out <file>           Output file path (default: stdout)
    --save                 Record the analysis in history
    --remote <ws-url>      Use a running Chrome instead of launching one
    --headful              Show the browser window

  perfdebug probe <url>...                            Fetch hosting and cache headers
    --headers              Print every collected header

  perfdebug history list [url]                        List recorded analyses
  perfdebug history show <url> [rev] [--json]         Print a recorded analysis (default: latest)
  perfdebug history diff <url> [rev] [rev2]           Compare two revisions (default: latest two)
  perfdebug history delete <url> <rev> [--yes]        Delete a revision

  perfdebug state                                     Print the persisted window state

Environment:
  PERFDEBUG_PORT         WebSocket port (overridden by --port)
  PERFDEBUG_DB           Database path (overridden by --db)
  PERFDEBUG_LOG_DIR      Log directory (overridden by --log-dir)
`)
}

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	cfgPath := fs.String("config", "", "Config file")
	port := fs.Int("port", 0, "WebSocket port")
	dbPath := fs.String("db", "", "Database path")
	logDir := fs.String("log-dir", "", "Log directory")
	noTUI := fs.Bool("no-tui", false, "Run without the terminal UI")
	verbose := fs.Bool("verbose", false, "Log every extension message")
	fs.Parse(args)

	cfg := loadConfig(*cfgPath)
	if *port > 0 {
		cfg.Port = *port
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if *logDir != "" {
		cfg.LogDir = *logDir
	}

	if err := applog.Init(cfg.LogDir); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: logging disabled: %v\n", err)
	}
	defer applog.Close()
	applog.SetVerbose(*verbose)

	db, err := openDB(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	srv := server.New(cfg.Port)
	opts := service.Options{
		Window: window.Defaults{
			Width:  cfg.Window.Width,
			Height: cfg.Window.Height,
			Type:   cfg.Window.Type,
			Page:   cfg.Window.Page,
		},
		Toggle: toggle.Settings{
			PollInterval:  cfg.Toggle.PollInterval,
			LoadTimeout:   cfg.Toggle.LoadTimeout,
			SettleDelay:   cfg.Toggle.SettleDelay,
			NoChangeDelay: cfg.Toggle.NoChangeDelay,
		},
		Parameters:     cfg.Parameters,
		Prober:         probe.New(cfg.Probe.Timeout, cfg.Probe.Concurrency, cfg.Probe.UserAgent),
		Feed:           !*noTUI,
		MessageTimeout: cfg.Extension.MessageTimeout,
	}
	if cfg.History.Enabled {
		opts.DB = db
	}
	svc := service.New(host.New(srv, host.WithCallTimeout(cfg.Extension.CallTimeout)), storage.NewKV(db), srv, opts)
	defer svc.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	listenErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(ctx); err != nil {
			applog.Error("server.listen", err, "port", cfg.Port)
			listenErr <- err
		}
	}()
	go svc.Run(ctx, srv.Messages())
	applog.Info("serve.start", "port", cfg.Port, "tui", !*noTUI, "history", cfg.History.Enabled, "actions", len(svc.Router().Actions()))

	if *noTUI {
		fmt.Printf("perfdebug listening on 127.0.0.1:%d (Ctrl+C to stop)\n", cfg.Port)
		select {
		case <-ctx.Done():
		case err := <-listenErr:
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	p := tea.NewProgram(tui.NewModel(svc, srv), tea.WithAltScreen())
	go func() {
		select {
		case <-ctx.Done():
			p.Quit()
		case err := <-listenErr:
			p.Quit()
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
	}()
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runInspect(args []string) {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	cfgPath := fs.String("config", "", "Config file")
	paramList := fs.String("params", "", "Debug parameters to apply, comma separated")
	jsonFlag := fs.Bool("json", false, "Output JSON instead of markdown")
	outFile := fs.String("out", "", "Output file path (default: stdout)")
	save := fs.Bool("save", false, "Record the analysis in history")
	remote := fs.String("remote", "", "DevTools websocket URL of a running Chrome")
	headful := fs.Bool("headful", false, "Show the browser window")
	fs.Parse(reorderArgs(fs, args))

	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: perfdebug inspect <url> [--params list] [--json] [--out file] [--save]")
		os.Exit(1)
	}
	target := fs.Arg(0)
	if !cdp.IsPage(target) {
		fmt.Fprintf(os.Stderr, "Not an inspectable page: %s\n", target)
		os.Exit(1)
	}

	cfg := loadConfig(*cfgPath)
	applog.Init(cfg.LogDir)
	defer applog.Close()

	opts := cdp.Options{
		Remote:    cfg.Inspect.Remote,
		Headless:  cfg.Inspect.Headless && !*headful,
		Timeout:   cfg.Inspect.Timeout,
		Settle:    cfg.Inspect.Settle,
		UserAgent: cfg.Probe.UserAgent,
	}
	if *remote != "" {
		opts.Remote = *remote
	}
	if *paramList != "" {
		names, err := parseParams(*paramList, cfg.Parameters)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		opts.Parameters = params.NewSet(names...)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(os.Stderr, "Inspecting %s...\n", target)
	res, err := cdp.Inspect(ctx, target, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	report := export.Report{
		URL:        res.URL,
		Label:      history.LabelFor(res.URL),
		CapturedAt: time.Now(),
		Analysis:   res.Analysis,
	}
	if *save {
		db, err := openDB(cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
			os.Exit(1)
		}
		defer db.Close()

		rev, created, diff, err := history.Record(db, res.URL, 0, res.Payload)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error saving analysis: %v\n", err)
			os.Exit(1)
		}
		report.Rev = rev
		if created {
			fmt.Fprintf(os.Stderr, "Saved as rev %d\n", rev)
		} else {
			fmt.Fprintf(os.Stderr, "No changes since rev %d\n", rev)
		}
		if diff != nil && !diff.Empty() {
			fmt.Fprintln(os.Stderr, history.FormatDiff(diff))
		}
	}

	writeReport(report, *jsonFlag, *outFile)
}

// parseParams splits a comma separated parameter list and rejects names
// outside allowed.
func parseParams(list string, allowed []string) ([]string, error) {
	ok := make(map[string]bool, len(allowed))
	for _, a := range allowed {
		ok[a] = true
	}
	var names []string
	for _, n := range strings.Split(list, ",") {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if !ok[n] {
			return nil, fmt.Errorf("unknown parameter %q (allowed: %s)", n, strings.Join(allowed, ", "))
		}
		names = append(names, n)
	}
	return names, nil
}

func runProbe(args []string) {
	fs := flag.NewFlagSet("probe", flag.ExitOnError)
	cfgPath := fs.String("config", "", "Config file")
	showHeaders := fs.Bool("headers", false, "Print every collected header")
	fs.Parse(reorderArgs(fs, args))

	urls := fs.Args()
	if len(urls) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: perfdebug probe <url>... [--headers]")
		os.Exit(1)
	}

	cfg := loadConfig(*cfgPath)
	applog.Init(cfg.LogDir)
	defer applog.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p := probe.New(cfg.Probe.Timeout, cfg.Probe.Concurrency, cfg.Probe.UserAgent)
	results := make(chan probe.Result, len(urls))
	p.ProbeAll(ctx, urls, results)
	close(results)

	ordered := make([]probe.Result, len(urls))
	for r := range results {
		ordered[r.Index] = r
	}

	failed := 0
	fmt.Printf("   %-6s %6s  %-12s %-8s  %s\n", "STATUS", "MS", "HOSTED BY", "CACHE", "URL")
	for _, r := range ordered {
		if r.Err != nil {
			failed++
			fmt.Printf("   %-6s %6s  %-12s %-8s  %s\n", "ERR", "-", "-", "-", r.URL)
			fmt.Printf("     %v\n", r.Err)
			continue
		}
		hosted, cache := r.HostedBy(), r.CacheStatus()
		dot := lipgloss.NewStyle().Foreground(lipgloss.Color(badge.Color(hosted, cache))).Render(badge.Text)
		fmt.Printf("%s  %-6d %6d  %-12s %-8s  %s\n",
			dot,
			r.Status,
			r.Duration.Milliseconds(),
			render.Truncate(hosted, 12),
			render.Truncate(cache, 8),
			r.URL,
		)
		if *showHeaders {
			fmt.Println(render.Headers(r.Headers))
		}
	}
	if failed > 0 {
		os.Exit(1)
	}
}

func runHistory(args []string) {
	if len(args) == 0 {
		runHistoryList(nil)
		return
	}

	subcmd := args[0]
	subArgs := args[1:]

	switch subcmd {
	case "list":
		runHistoryList(subArgs)
	case "show":
		runHistoryShow(subArgs)
	case "diff":
		runHistoryDiff(subArgs)
	case "delete":
		runHistoryDelete(subArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown history command %q. Use list, show, diff, or delete.\n", subcmd)
		os.Exit(1)
	}
}

func runHistoryList(args []string) {
	fs := flag.NewFlagSet("history list", flag.ExitOnError)
	cfgPath := fs.String("config", "", "Config file")
	fs.Parse(reorderArgs(fs, args))

	db := mustOpenDB(*cfgPath)
	defer db.Close()

	key := ""
	if fs.NArg() > 0 {
		key = history.PageKey(fs.Arg(0))
	}
	list, err := storage.ListAnalyses(db, key)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error listing analyses: %v\n", err)
		os.Exit(1)
	}
	if len(list) == 0 {
		fmt.Println("No analyses recorded.")
		return
	}

	fmt.Printf("%-5s %8s  %-24s %-16s  %s\n", "REV", "SIZE", "LABEL", "CREATED", "URL")
	for _, s := range list {
		fmt.Printf("%5d %8s  %-24s %-16s  %s\n",
			s.Rev,
			render.FileSize(int64(s.Size)),
			render.Truncate(s.Label, 24),
			s.CreatedAt.Format("2006-01-02 15:04"),
			s.URL,
		)
	}
}

func runHistoryShow(args []string) {
	fs := flag.NewFlagSet("history show", flag.ExitOnError)
	cfgPath := fs.String("config", "", "Config file")
	jsonFlag := fs.Bool("json", false, "Output JSON instead of markdown")
	outFile := fs.String("out", "", "Output file path (default: stdout)")
	fs.Parse(reorderArgs(fs, args))

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: perfdebug history show <url> [rev] [--json] [--out file]")
		os.Exit(1)
	}
	rev := 0
	if fs.NArg() > 1 {
		rev = mustRev(fs.Arg(1))
	}

	db := mustOpenDB(*cfgPath)
	defer db.Close()

	r, a, err := history.Load(db, fs.Arg(0), rev)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	writeReport(export.Report{
		URL:        r.URL,
		Label:      r.Label,
		Rev:        r.Rev,
		CapturedAt: r.CreatedAt,
		Analysis:   a,
	}, *jsonFlag, *outFile)
}

func runHistoryDiff(args []string) {
	fs := flag.NewFlagSet("history diff", flag.ExitOnError)
	cfgPath := fs.String("config", "", "Config file")
	fs.Parse(reorderArgs(fs, args))

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: perfdebug history diff <url> [rev] [rev2]")
		os.Exit(1)
	}
	var revFrom, revTo int
	switch fs.NArg() {
	case 2:
		revTo = mustRev(fs.Arg(1))
	case 3:
		revFrom = mustRev(fs.Arg(1))
		revTo = mustRev(fs.Arg(2))
	}

	db := mustOpenDB(*cfgPath)
	defer db.Close()

	diff, err := history.DiffRevisions(db, fs.Arg(0), revFrom, revTo)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Print(history.FormatDiff(diff))
}

func runHistoryDelete(args []string) {
	fs := flag.NewFlagSet("history delete", flag.ExitOnError)
	cfgPath := fs.String("config", "", "Config file")
	yes := fs.Bool("yes", false, "Skip confirmation prompt")
	fs.Parse(reorderArgs(fs, args))

	if fs.NArg() < 2 {
		fmt.Fprintln(os.Stderr, "Usage: perfdebug history delete <url> <rev> [--yes]")
		os.Exit(1)
	}
	key := history.PageKey(fs.Arg(0))
	rev := mustRev(fs.Arg(1))

	if !*yes {
		fmt.Printf("Delete rev %d of %s? [y/N] ", rev, key)
		reader := bufio.NewReader(os.Stdin)
		answer, _ := reader.ReadString('\n')
		answer = strings.TrimSpace(strings.ToLower(answer))
		if answer != "y" && answer != "yes" {
			fmt.Println("Aborted.")
			return
		}
	}

	db := mustOpenDB(*cfgPath)
	defer db.Close()

	if err := storage.DeleteAnalysis(db, key, rev); err != nil {
		fmt.Fprintf(os.Stderr, "Error deleting analysis: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Rev %d of %s deleted.\n", rev, key)
}

func runState(args []string) {
	fs := flag.NewFlagSet("state", flag.ExitOnError)
	cfgPath := fs.String("config", "", "Config file")
	fs.Parse(args)

	db := mustOpenDB(*cfgPath)
	defer db.Close()

	values, err := storage.NewKV(db).Dump(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading state: %v\n", err)
		os.Exit(1)
	}
	if len(values) == 0 {
		fmt.Println("No state stored (popup attached).")
		return
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("%-24s %s\n", k, values[k])
	}
}

func writeReport(r export.Report, asJSON bool, outFile string) {
	var content string
	if asJSON {
		var err error
		content, err = export.JSON(r)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error formatting JSON: %v\n", err)
			os.Exit(1)
		}
	} else {
		content = export.Markdown(r)
	}

	if outFile != "" {
		if err := os.WriteFile(outFile, []byte(content), 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing file: %v\n", err)
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "Exported %s to %s\n", r.URL, outFile)
		return
	}
	fmt.Print(content)
}

func loadConfig(path string) *config.Config {
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
		path = p
	}
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func openDB(cfg *config.Config) (*sql.DB, error) {
	path := cfg.DBPath
	if path == "" {
		p, err := storage.DefaultDBPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	return storage.OpenDB(path)
}

func mustOpenDB(cfgPath string) *sql.DB {
	db, err := openDB(loadConfig(cfgPath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
		os.Exit(1)
	}
	return db
}

func mustRev(s string) int {
	rev, err := strconv.Atoi(s)
	if err != nil || rev <= 0 {
		fmt.Fprintf(os.Stderr, "Invalid revision number: %s\n", s)
		os.Exit(1)
	}
	return rev
}

// reorderArgs moves flag arguments before positional arguments so that
// flag.Parse handles them correctly (it stops at the first non-flag arg).
// Boolean flags never take the following argument as their value.
func reorderArgs(fs *flag.FlagSet, args []string) []string {
	var flags, positional []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "-") {
			positional = append(positional, arg)
			continue
		}
		flags = append(flags, arg)
		name := strings.TrimLeft(arg, "-")
		if strings.Contains(name, "=") || isBoolFlag(fs, name) {
			continue
		}
		if i+1 < len(args) {
			flags = append(flags, args[i+1])
			i++
		}
	}
	return append(flags, positional...)
}

func isBoolFlag(fs *flag.FlagSet, name string) bool {
	f := fs.Lookup(name)
	if f == nil {
		return false
	}
	b, ok := f.Value.(interface{ IsBoolFlag() bool })
	return ok && b.IsBoolFlag()
}
