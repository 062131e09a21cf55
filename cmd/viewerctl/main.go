// viewerctl is an interactive CLI for driving the render pipeline against a
// real document, without the HTTP server in the way.
//
// Usage:
//
//	viewerctl [flags] <document>
//
// Flags:
//
//	-b, --backend       Render backend to use (default: best available)
//	-c, --concurrency   Simultaneous page renders (default 2)
//	-a, --pages-alive   Rendered pages kept before eviction (default 10)
//	-H, --height        Viewport height in pixels (default 800)
//
// Commands (in REPL):
//
//	goto <page>          Scroll so the page is at the top of the viewport
//	scroll <delta>       Scroll by delta pixels (negative scrolls up)
//	zoom in|out|<f>      Zoom by a step or to a factor
//	fit <width>          Fit the widest page to a container width
//	force                Fold pending zoom and re-rasterize now
//	pages                Show visible and prefetch pages
//	stats                Show render pipeline statistics
//	text <page>          Print the text runs of a page
//	export <page> <file> Render a page and write it as PNG
//	help                 Show this help
//	exit / quit / q      Exit
package main

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/natefinch/atomic"
	"github.com/peterh/liner"
	flag "github.com/spf13/pflag"

	"github.com/drummonds/goview/render"
	"github.com/drummonds/goview/render/backend"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	backendName := flag.StringP("backend", "b", "", "render backend to use")
	concurrency := flag.IntP("concurrency", "c", 2, "simultaneous page renders")
	pagesAlive := flag.IntP("pages-alive", "a", 10, "rendered pages kept before eviction")
	height := flag.Float64P("height", "H", 800, "viewport height in pixels")
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Fprintf(os.Stderr, "Usage: viewerctl [flags] <document>\n\n")
		flag.PrintDefaults()
		return fmt.Errorf("missing document path")
	}
	documentPath := flag.Arg(0)

	documentBytes, err := os.ReadFile(documentPath)
	if err != nil {
		return fmt.Errorf("reading document: %w", err)
	}

	// Quiet structured logging; the REPL output is the interface here.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
	render.Logger = logger
	backend.Logger = logger

	var be backend.Backend
	if *backendName != "" {
		be, err = backend.New(*backendName)
	} else {
		be, err = backend.Default()
	}
	if err != nil {
		return fmt.Errorf("opening render backend: %w", err)
	}

	viewer := render.NewViewer(be, render.Config{
		MaxConcurrency: *concurrency,
		MaxPagesAlive:  *pagesAlive,
	})
	if err := viewer.Load(context.Background(), documentBytes); err != nil {
		viewer.Dispose()
		return fmt.Errorf("loading document: %w", err)
	}
	defer viewer.Dispose()

	repl := &REPL{
		viewer:  viewer,
		name:    filepath.Base(documentPath),
		backend: be.Name(),
		height:  *height,
	}
	return repl.Run()
}

// REPL is the interactive command loop around one open viewer.
type REPL struct {
	viewer    *render.Viewer
	name      string
	backend   string
	height    float64
	scrollTop float64
	liner     *liner.State
}

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".viewerctl_history")
}

// Run starts the REPL loop.
func (r *REPL) Run() error {
	r.liner = liner.NewLiner()
	defer r.liner.Close()

	r.liner.SetCtrlCAborts(true)
	r.liner.SetCompleter(r.completer)

	if f, err := os.Open(historyFile()); err == nil {
		r.liner.ReadHistory(f)
		f.Close()
	}

	fmt.Printf("viewerctl - %s (%d pages, backend=%s)\n", r.name, r.viewer.PageCount(), r.backend)
	fmt.Println("Type 'help' for available commands.")
	fmt.Println()

	r.viewer.SetViewport(0, r.height)

	for {
		line, err := r.liner.Prompt("viewerctl> ")
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				fmt.Println("\nBye!")
				break
			}
			return fmt.Errorf("reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		r.liner.AppendHistory(line)

		parts := strings.Fields(line)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "exit", "quit", "q":
			fmt.Println("Bye!")
			r.saveHistory()
			return nil

		case "help", "?":
			r.printHelp()

		case "goto":
			r.cmdGoto(args)

		case "scroll":
			r.cmdScroll(args)

		case "zoom":
			r.cmdZoom(args)

		case "fit":
			r.cmdFit(args)

		case "force":
			r.viewer.ForceReraster()
			fmt.Println("OK: re-raster forced")

		case "pages":
			r.cmdPages()

		case "stats":
			r.cmdStats()

		case "text":
			r.cmdText(args)

		case "export":
			r.cmdExport(args)

		case "clear", "cls":
			fmt.Print("\033[H\033[2J")

		default:
			fmt.Printf("Unknown command: %s (type 'help' for commands)\n", cmd)
		}
	}

	r.saveHistory()
	return nil
}

func (r *REPL) saveHistory() {
	if path := historyFile(); path != "" {
		if f, err := os.Create(path); err == nil {
			r.liner.WriteHistory(f)
			f.Close()
		}
	}
}

func (r *REPL) completer(line string) []string {
	commands := []string{
		"goto", "scroll", "zoom", "fit", "force",
		"pages", "stats", "text", "export",
		"clear", "cls", "help", "exit", "quit", "q",
	}

	var completions []string
	lower := strings.ToLower(line)
	for _, cmd := range commands {
		if strings.HasPrefix(cmd, lower) {
			completions = append(completions, cmd)
		}
	}
	return completions
}

func (r *REPL) printHelp() {
	fmt.Println("Commands:")
	fmt.Println("  goto <page>          Scroll so the page is at the top of the viewport")
	fmt.Println("  scroll <delta>       Scroll by delta pixels (negative scrolls up)")
	fmt.Println("  zoom in|out|<f>      Zoom by a step or to a factor")
	fmt.Println("  fit <width>          Fit the widest page to a container width")
	fmt.Println("  force                Fold pending zoom and re-rasterize now")
	fmt.Println("  pages                Show visible and prefetch pages")
	fmt.Println("  stats                Show render pipeline statistics")
	fmt.Println("  text <page>          Print the text runs of a page")
	fmt.Println("  export <page> <file> Render a page and write it as PNG")
	fmt.Println("  help                 Show this help")
	fmt.Println("  exit / quit / q      Exit")
	fmt.Println()
	fmt.Println("Pages are 1-based on the command line.")
}

// parsePage converts a 1-based argument to a page index.
func (r *REPL) parsePage(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("not a page number: %q", s)
	}
	if n < 1 || n > r.viewer.PageCount() {
		return 0, fmt.Errorf("page %d out of range (document has %d pages)", n, r.viewer.PageCount())
	}
	return n - 1, nil
}

func (r *REPL) setScroll(scrollTop float64) {
	if scrollTop < 0 {
		scrollTop = 0
	}
	r.scrollTop = scrollTop
	r.viewer.SetViewport(scrollTop, r.height)
	fmt.Printf("Viewport at %.0fpx, visible pages %s\n", scrollTop, pageList(r.viewer.VisiblePages()))
}

func (r *REPL) cmdGoto(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: goto <page>")
		return
	}
	page, err := r.parsePage(args[0])
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	r.setScroll(r.viewer.Layout().Top(page))
}

func (r *REPL) cmdScroll(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: scroll <delta>")
		return
	}
	delta, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		fmt.Printf("Error parsing delta: %v\n", err)
		return
	}
	r.setScroll(r.scrollTop + delta)
}

func (r *REPL) cmdZoom(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: zoom in|out|<factor>")
		return
	}
	switch args[0] {
	case "in":
		r.viewer.ZoomIn()
	case "out":
		r.viewer.ZoomOut()
	default:
		factor, err := strconv.ParseFloat(args[0], 64)
		if err != nil || factor <= 0 {
			fmt.Printf("Error: zoom factor must be a positive number\n")
			return
		}
		r.viewer.SetZoom(factor)
	}
	scale := r.viewer.Scale()
	fmt.Printf("Zoom %.2f (baseRasterScale %.2f)\n", r.viewer.Zoom(), scale.BaseRasterScale)
}

func (r *REPL) cmdFit(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: fit <width>")
		return
	}
	width, err := strconv.ParseFloat(args[0], 64)
	if err != nil || width <= 0 {
		fmt.Printf("Error: width must be a positive number\n")
		return
	}
	r.viewer.FitToWidth(width)
	fmt.Printf("Fit zoom %.2f\n", r.viewer.Zoom())
}

func (r *REPL) cmdPages() {
	fmt.Printf("Visible:  %s\n", pageList(r.viewer.VisiblePages()))
	fmt.Printf("Prefetch: %s\n", pageList(r.viewer.PrefetchPages()))
}

func (r *REPL) cmdStats() {
	stats := r.viewer.Stats()
	fmt.Printf("Render stats:\n")
	fmt.Printf("  Queued:       %d\n", stats.Queued)
	fmt.Printf("  Running:      %d\n", stats.Running)
	fmt.Printf("  Pages alive:  %d\n", stats.PagesAlive)
	fmt.Printf("  Pool memory:  %.1f MiB\n", float64(stats.PoolBytes)/(1024*1024))
	fmt.Printf("  Visible:      %s\n", pageList(stats.Visible))
}

func (r *REPL) cmdText(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: text <page>")
		return
	}
	page, err := r.parsePage(args[0])
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	runs, err := r.viewer.TextRuns(context.Background(), page)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	if len(runs) == 0 {
		fmt.Println("(no text)")
		return
	}
	for _, run := range runs {
		fmt.Printf("  (%.1f, %.1f) %s\n", run.X, run.Y, run.Text)
	}
}

func (r *REPL) cmdExport(args []string) {
	if len(args) < 2 {
		fmt.Println("Usage: export <page> <file>")
		return
	}
	page, err := r.parsePage(args[0])
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	raster, err := r.viewer.RenderOnce(context.Background(), page)
	if err != nil {
		fmt.Printf("Error rendering page: %v\n", err)
		return
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, raster); err != nil {
		fmt.Printf("Error encoding PNG: %v\n", err)
		return
	}
	if err := atomic.WriteFile(args[1], &buf); err != nil {
		fmt.Printf("Error writing file: %v\n", err)
		return
	}
	bounds := raster.Bounds()
	fmt.Printf("OK: wrote %s (%dx%d)\n", args[1], bounds.Dx(), bounds.Dy())
}

func pageList(pages []int) string {
	if len(pages) == 0 {
		return "(none)"
	}
	parts := make([]string, len(pages))
	for i, p := range pages {
		parts[i] = strconv.Itoa(p + 1)
	}
	return strings.Join(parts, ", ")
}
