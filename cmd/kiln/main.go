// Command kiln builds and runs container images from bootstrap descriptors
// without a daemon.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/alecthomas/kong"
	"github.com/c2h5oh/datasize"

	"github.com/kilnbuild/kiln/lib/build"
	"github.com/kilnbuild/kiln/lib/descriptor"
	"github.com/kilnbuild/kiln/lib/images"
	"github.com/kilnbuild/kiln/lib/index"
	"github.com/kilnbuild/kiln/lib/logger"
	"github.com/kilnbuild/kiln/lib/paths"
	"github.com/kilnbuild/kiln/lib/runtime"
)

// CLI defines the command-line interface structure parsed by Kong.
type CLI struct {
	DataDir  string `name:"data-dir" env:"DATA_DIR" default:"${default_data_dir}" help:"Data directory"`
	IndexURL string `name:"index-url" env:"INDEX_URL" help:"Package index base URL"`
	Insecure bool   `help:"Allow plain-HTTP registries"`
	Verbose  bool   `short:"v" help:"Enable verbose output"`

	Build  BuildCmd  `cmd:"" help:"Build an image from a descriptor"`
	Run    RunCmd    `cmd:"" help:"Run a built image"`
	Images ImagesCmd `cmd:"" help:"List built images"`
	Rmi    RmiCmd    `cmd:"" help:"Remove a built image"`
}

type BuildCmd struct {
	File string `short:"f" help:"Descriptor file (default: kiln.yaml in context)"`
	Tag  string `short:"t" help:"Override the output image tag"`

	Context string `arg:"" optional:"" help:"Build context directory (overrides the descriptor's context and tag)"`
}

type RunCmd struct {
	Image string `arg:"" help:"Image ID or tag"`
}

type ImagesCmd struct{}

type RmiCmd struct {
	Image string `arg:"" help:"Image ID or tag"`
}

// deps holds everything commands need; constructed once after flag parsing.
type deps struct {
	ctx      context.Context
	paths    *paths.Paths
	store    images.Manager
	resolver images.Resolver
	idx      index.Index
	builder  *build.Builder
	launcher runtime.Launcher
	out      io.Writer
}

func main() {
	var cli CLI

	defaultDataDir := "/var/lib/kiln"
	if home, err := os.UserHomeDir(); err == nil {
		defaultDataDir = filepath.Join(home, ".kiln")
	}

	kctx := kong.Parse(&cli,
		kong.Name("kiln"),
		kong.Description("Bake container images from bootstrap descriptors."),
		kong.Vars{"default_data_dir": defaultDataDir},
	)

	level := slog.LevelWarn
	if cli.Verbose {
		level = slog.LevelInfo
	}
	log := logger.New(level)
	ctx := logger.WithContext(context.Background(), log)

	p := paths.New(cli.DataDir)
	store := images.NewManager(p)

	var resolverOpts []images.ResolverOption
	if cli.Insecure {
		resolverOpts = append(resolverOpts, images.WithInsecure())
	}
	resolver := images.NewResolver(resolverOpts...)

	var idx index.Index = index.NewMemIndex()
	if cli.IndexURL != "" {
		idx = index.NewHTTPIndex(cli.IndexURL, http.DefaultClient)
	}

	d := &deps{
		ctx:      ctx,
		paths:    p,
		store:    store,
		resolver: resolver,
		idx:      idx,
		builder:  build.NewBuilder(resolver, idx, store, datasize.ByteSize(0)),
		launcher: runtime.NewLauncher(p, store),
		out:      os.Stdout,
	}

	kctx.FatalIfErrorf(kctx.Run(d))
}

func (c *BuildCmd) Run(d *deps) error {
	descPath := c.File
	if descPath == "" {
		dir := c.Context
		if dir == "" {
			dir = "."
		}
		descPath = filepath.Join(dir, descriptor.DefaultFileName)
	}

	desc, err := descriptor.Load(descPath)
	if err != nil {
		return err
	}
	// An explicit context argument overrides whatever the descriptor
	// declares; without one the descriptor's context and tag stand.
	if c.Context != "" {
		abs, err := filepath.Abs(c.Context)
		if err != nil {
			return err
		}
		desc.Context = abs
		desc.Tag = filepath.Base(abs)
	}
	if c.Tag != "" {
		desc.Tag = c.Tag
	}

	staging, err := os.MkdirTemp("", "kiln-build-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(staging)

	img, err := d.builder.Build(d.ctx, desc, staging)
	if err != nil {
		return err
	}

	fmt.Fprintf(d.out, "%s\t%s\n", img.ID, img.Digest)
	return nil
}

func (c *RunCmd) Run(d *deps) error {
	id, err := resolveImageArg(d, c.Image)
	if err != nil {
		return err
	}

	// The container exit code is the process exit code.
	code, err := d.launcher.Launch(d.ctx, id, runtime.LaunchOptions{})
	if err != nil {
		return err
	}
	os.Exit(code)
	return nil
}

func (c *ImagesCmd) Run(d *deps) error {
	imgs, err := d.store.List(d.ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(d.out, 2, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTAG\tBASE\tSIZE\tCREATED")
	for _, img := range imgs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			img.ID, img.Tag, img.Base,
			datasize.ByteSize(img.SizeBytes).HumanReadable(),
			img.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return tw.Flush()
}

func (c *RmiCmd) Run(d *deps) error {
	id, err := resolveImageArg(d, c.Image)
	if err != nil {
		return err
	}
	return d.store.Delete(d.ctx, id)
}

// resolveImageArg accepts either a store ID or a tag.
func resolveImageArg(d *deps, arg string) (string, error) {
	if _, err := d.store.Get(d.ctx, arg); err == nil {
		return arg, nil
	}

	imgs, err := d.store.List(d.ctx)
	if err != nil {
		return "", err
	}
	for _, img := range imgs {
		if img.Tag == arg {
			return img.ID, nil
		}
	}
	return "", fmt.Errorf("%w: %s", images.ErrNotFound, arg)
}
