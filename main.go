package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/kunitoki/etch/bytecode"
	"github.com/kunitoki/etch/config"
	"github.com/kunitoki/etch/dap"
	"github.com/kunitoki/etch/internal/etchlog"
	"github.com/kunitoki/etch/replay"
	"github.com/kunitoki/etch/vm"
)

// Version information, overridden at build time with:
// go build -ldflags "-X main.Version=v1.2.3"
var (
	Version = "dev"     // Version number (set by git tag at build time)
	Commit  = "unknown" // Git commit hash
	Date    = "unknown" // Build date
)

func main() {
	app := &cli.Command{
		Name:    "etch",
		Usage:   "Run, compile, debug, and replay Etch bytecode programs",
		Version: fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, Date),
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "verbose", Usage: "verbose output"},
			&cli.BoolFlag{Name: "debug", Usage: "with ETCH_DEBUG_PORT set, run serves DAP on that loopback port instead of executing; no debug info is emitted"},
			&cli.BoolFlag{Name: "force", Usage: "ignore the bytecode cache"},
		},
		Commands: []*cli.Command{
			runCommand,
			compileCommand,
			testCommand,
			debugServerCommand,
			replayCommand,
			recordCommand,
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "etch: %v\n", err)
		os.Exit(1)
	}
}

var runCommand = &cli.Command{
	Name:      "run",
	Usage:     "compile if needed, then execute a bytecode file",
	ArgsUsage: "<file.etcx>",
	Action:    runAction,
}

func runAction(ctx context.Context, cmd *cli.Command) error {
	path := cmd.Args().First()
	if path == "" {
		return fmt.Errorf("run: missing <file.etcx> argument")
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	prog, err := bytecode.LoadCached(path, cmd.Bool("force"))
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}

	machine := newVM(cfg)
	if err := machine.Load(prog); err != nil {
		return fmt.Errorf("run: %w", err)
	}

	if cmd.Bool("debug") {
		if port := os.Getenv("ETCH_DEBUG_PORT"); port != "" {
			return runWithDebugServer(ctx, machine, path, port)
		}
	}

	if err := machine.Run(ctx); err != nil {
		return fmt.Errorf("run: %w", err)
	}
	if cmd.Bool("verbose") {
		fmt.Fprintf(os.Stderr, "etch: executed %d instructions, exit code %d\n", machine.InstructionCount(), machine.ExitCode())
	}
	os.Exit(machine.ExitCode())
	return nil
}

// runWithDebugServer binds a TCP DAP transport on loopback instead of
// running the VM directly, per spec.md §6's "ETCH_DEBUG_PORT ... binds TCP
// on loopback" embedded-mode behavior, reused here for `run --debug`.
func runWithDebugServer(ctx context.Context, machine *vm.VM, path string, port string) error {
	attachTimeout := 0 * time.Millisecond
	if ms := os.Getenv("ETCH_DEBUG_TIMEOUT"); ms != "" {
		if n, err := strconv.Atoi(ms); err == nil {
			attachTimeout = time.Duration(n) * time.Millisecond
		}
	}

	srv, err := dap.ListenTCP("127.0.0.1:"+port, path, machine, attachTimeout, etchlog.Logger)
	if err != nil {
		return fmt.Errorf("run --debug: %w", err)
	}
	fmt.Fprintf(os.Stderr, "etch: debug server listening on %s\n", srv.Addr())
	return srv.Serve(ctx)
}

var compileCommand = &cli.Command{
	Name:      "compile",
	Usage:     "validate a bytecode file and emit its cache entry",
	ArgsUsage: "<file.etcx>",
	Action:    compileAction,
}

func compileAction(_ context.Context, cmd *cli.Command) error {
	path := cmd.Args().First()
	if path == "" {
		return fmt.Errorf("compile: missing <file.etcx> argument")
	}

	if _, err := bytecode.LoadCached(path, cmd.Bool("force")); err != nil {
		return fmt.Errorf("compile: %w", err)
	}
	cachePath, err := bytecode.CachePath(path)
	if err != nil {
		return fmt.Errorf("compile: %w", err)
	}
	fmt.Println(cachePath)
	return nil
}

var testCommand = &cli.Command{
	Name:      "test",
	Usage:     "execute bytecode files under a directory, validating against .pass/.fail sidecars",
	ArgsUsage: "<path>",
	Action:    testAction,
}

func testAction(ctx context.Context, cmd *cli.Command) error {
	root := cmd.Args().First()
	if root == "" {
		return fmt.Errorf("test: missing <path> argument")
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return fmt.Errorf("test: %w", err)
	}

	cfg := config.DefaultConfig()
	failures := 0
	ran := 0

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".etcx") {
			continue
		}
		ran++
		name := strings.TrimSuffix(entry.Name(), ".etcx")
		file := filepath.Join(root, entry.Name())

		ok, detail := runTestCase(ctx, cfg, root, name, file)
		status := "PASS"
		if !ok {
			status = "FAIL"
			failures++
		}
		fmt.Printf("%-4s %s %s\n", status, name, detail)
	}

	if ran == 0 {
		return fmt.Errorf("test: no .etcx files found under %s", root)
	}
	fmt.Printf("%d/%d passed\n", ran-failures, ran)
	if failures > 0 {
		os.Exit(1)
	}
	return nil
}

func runTestCase(ctx context.Context, cfg *config.Config, root, name, file string) (ok bool, detail string) {
	prog, err := bytecode.Load(file)
	if err != nil {
		return false, fmt.Sprintf("load error: %v", err)
	}

	machine := newVM(cfg)
	var out strings.Builder
	machine.SetStdout(func(s string) { out.WriteString(s) })
	if err := machine.Load(prog); err != nil {
		return false, fmt.Sprintf("load error: %v", err)
	}

	runErr := machine.Run(ctx)

	failSidecar := filepath.Join(root, name+".fail")
	passSidecar := filepath.Join(root, name+".pass")

	if _, err := os.Stat(failSidecar); err == nil {
		if runErr == nil && machine.ExitCode() == 0 {
			return false, "expected failure but program succeeded"
		}
		return true, ""
	}

	if want, err := os.ReadFile(passSidecar); err == nil { // #nosec G304 -- sidecar path derived from test directory listing
		if runErr != nil {
			return false, fmt.Sprintf("unexpected error: %v", runErr)
		}
		if strings.TrimRight(out.String(), "\n") != strings.TrimRight(string(want), "\n") {
			return false, fmt.Sprintf("output mismatch: got %q, want %q", out.String(), string(want))
		}
		return true, ""
	}

	if runErr != nil {
		return false, fmt.Sprintf("unexpected error: %v", runErr)
	}
	return true, ""
}

var debugServerCommand = &cli.Command{
	Name:      "debug-server",
	Usage:     "console DAP mode, reads/writes stdio",
	ArgsUsage: "<file.etcx>",
	Action:    debugServerAction,
}

func debugServerAction(ctx context.Context, cmd *cli.Command) error {
	path := cmd.Args().First()
	if path == "" {
		return fmt.Errorf("debug-server: missing <file.etcx> argument")
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	prog, err := bytecode.LoadCached(path, cmd.Bool("force"))
	if err != nil {
		return fmt.Errorf("debug-server: %w", err)
	}

	machine := newVM(cfg)
	if err := machine.Load(prog); err != nil {
		return fmt.Errorf("debug-server: %w", err)
	}

	if err := dap.ServeConsole(ctx, os.Stdin, os.Stdout, machine, etchlog.Logger); err != nil {
		return fmt.Errorf("debug-server: %w", err)
	}
	os.Exit(machine.ExitCode())
	return nil
}

var recordCommand = &cli.Command{
	Name:      "record",
	Usage:     "execute a bytecode file and emit a replay file",
	ArgsUsage: "<path>",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "run", Usage: "bytecode file to execute and record", Required: true},
	},
	Action: recordAction,
}

func recordAction(ctx context.Context, cmd *cli.Command) error {
	outPath := cmd.Args().First()
	if outPath == "" {
		return fmt.Errorf("record: missing <path> argument")
	}
	runPath := cmd.String("run")

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	prog, err := bytecode.LoadCached(runPath, cmd.Bool("force"))
	if err != nil {
		return fmt.Errorf("record: %w", err)
	}

	machine := newVM(cfg)
	if err := machine.Load(prog); err != nil {
		return fmt.Errorf("record: %w", err)
	}

	rec, err := replay.NewRecorder(machine).Run(ctx)
	if err != nil {
		return fmt.Errorf("record: %w", err)
	}
	if err := replay.Save(outPath, rec); err != nil {
		return fmt.Errorf("record: %w", err)
	}
	if cmd.Bool("verbose") {
		fmt.Fprintf(os.Stderr, "etch: recorded %d statements to %s\n", len(rec.Statements), outPath)
	}
	return nil
}

var replayCommand = &cli.Command{
	Name:      "replay",
	Usage:     "load a recorded execution and step through it",
	ArgsUsage: "<record.replay>",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "step", Usage: "comma-separated list of statement numbers, S, or E"},
	},
	Action: replayAction,
}

func replayAction(_ context.Context, cmd *cli.Command) error {
	path := cmd.Args().First()
	if path == "" {
		return fmt.Errorf("replay: missing <record.replay> argument")
	}

	session, err := replay.Open(path)
	if err != nil {
		return fmt.Errorf("replay: %w", err)
	}

	spec := cmd.String("step")
	if spec == "" {
		spec = "S,E"
	}

	snapshots, warnings := session.Step(spec)
	for _, w := range warnings {
		fmt.Fprintf(os.Stderr, "etch: replay: %s\n", w)
	}
	for _, snap := range snapshots {
		fmt.Printf("#%d %s:%d (depth %d)\n", snap.StmtID, snap.FunctionName, snap.Line, snap.FrameDepth)
		for i, reg := range snap.Registers {
			fmt.Printf("  r%d = %s\n", i, reg.Display())
		}
	}
	return nil
}

func loadConfig(cmd *cli.Command) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		if cmd.Bool("verbose") {
			fmt.Fprintf(os.Stderr, "etch: using default config: %v\n", err)
		}
		return config.DefaultConfig(), nil
	}
	return cfg, nil
}

func newVM(cfg *config.Config) *vm.VM {
	machine := vm.New()
	if cfg.Execution.CycleInterval >= 0 {
		machine.Heap.CycleInterval = cfg.Execution.CycleInterval
	}
	return machine
}
