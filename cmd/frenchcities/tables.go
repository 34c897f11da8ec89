// CLAUDE:SUMMARY CSV subcommands: find-city, departements and vintage read a CSV file, run the resolver and write the enriched CSV.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"unicode/utf8"

	"github.com/hazyhaar/french-cities/pkg/cityfinder"
	"github.com/hazyhaar/french-cities/pkg/departement"
	"github.com/hazyhaar/french-cities/pkg/frenchcities"
	"github.com/hazyhaar/french-cities/pkg/table"
)

// csvFlags are the input/output flags of the table subcommands.
type csvFlags struct {
	config *string
	in     *string
	out    *string
	sep    *string
}

func newCSVFlags(fs *flag.FlagSet) csvFlags {
	return csvFlags{
		config: configFlag(fs),
		in:     fs.String("in", "-", "input CSV file (- for stdin)"),
		out:    fs.String("out", "-", "output CSV file (- for stdout)"),
		sep:    fs.String("sep", ",", "field separator"),
	}
}

// run reads the input table, applies fn and writes the result.
func (f csvFlags) run(fn func(ctx context.Context, svc *frenchcities.Service, t *table.Table) (*table.Table, error)) {
	comma, size := utf8.DecodeRuneInString(*f.sep)
	if size == 0 || size != len(*f.sep) {
		fmt.Fprintf(os.Stderr, "invalid separator %q\n", *f.sep)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	svc, _, logger := openService(ctx, *f.config)
	defer svc.Close()

	var in io.Reader = os.Stdin
	if *f.in != "-" {
		file, err := os.Open(*f.in)
		if err != nil {
			logger.Error("open input", "error", err)
			os.Exit(1)
		}
		defer file.Close()
		in = file
	}
	t, err := table.ReadCSV(in, comma)
	if err != nil {
		logger.Error("read input", "error", err)
		os.Exit(1)
	}

	out, err := fn(ctx, svc, t)
	if err != nil {
		logger.Error("resolve", "error", err)
		os.Exit(1)
	}

	var w io.Writer = os.Stdout
	if *f.out != "-" {
		file, err := os.Create(*f.out)
		if err != nil {
			logger.Error("create output", "error", err)
			os.Exit(1)
		}
		defer file.Close()
		w = file
	}
	if err := table.WriteCSV(w, out, comma); err != nil {
		logger.Error("write output", "error", err)
		os.Exit(1)
	}
}

func cmdFindCity(args []string) {
	fs := flag.NewFlagSet("find-city", flag.ExitOnError)
	cf := newCSVFlags(fs)
	def := cityfinder.DefaultColumns()
	year := fs.String("year", "last", `target vintage: "last" or a year`)
	postcode := fs.String("postcode", def.Postcode, "postcode column (empty: absent)")
	city := fs.String("city", def.City, "city name column (empty: absent)")
	address := fs.String("address", def.Address, "address column (empty: absent)")
	dep := fs.String("dep", def.Dep, "department column (empty: absent)")
	x := fs.String("x", def.X, "X / longitude column (empty: absent)")
	y := fs.String("y", def.Y, "Y / latitude column (empty: absent)")
	epsg := fs.Int("epsg", 0, "EPSG code of x/y (e.g. 4326, 2154, 27572, 2975); 0 skips geolocation")
	output := fs.String("output", cityfinder.DefaultOutput, "output column")
	nominatim := fs.Bool("nominatim", false, "query OpenStreetMap Nominatim as a last resort")
	fs.Parse(args)

	opts := cityfinder.Options{
		Year: *year,
		Columns: cityfinder.Columns{
			X: *x, Y: *y, Dep: *dep, City: *city, Address: *address, Postcode: *postcode,
		},
		Output:       *output,
		EPSG:         *epsg,
		UseNominatim: *nominatim,
	}
	cf.run(func(ctx context.Context, svc *frenchcities.Service, t *table.Table) (*table.Table, error) {
		return svc.FindCity(ctx, t, opts)
	})
}

func cmdDepartements(args []string) {
	fs := flag.NewFlagSet("departements", flag.ExitOnError)
	cf := newCSVFlags(fs)
	source := fs.String("source", "", "column holding postcodes, INSEE codes or department names (required)")
	kind := fs.String("kind", string(departement.KindPostcode), "postcode | insee | label")
	alias := fs.String("alias", departement.DefaultAlias, "output column")
	dups := fs.Bool("duplicates", false, "duplicate rows whose postcode spans several departments")
	project := fs.Bool("project", false, "project INSEE codes onto the current year first (kind insee)")
	fs.Parse(args)
	if *source == "" {
		fmt.Fprintln(os.Stderr, "-source is required")
		fs.Usage()
		os.Exit(2)
	}

	opts := departement.Options{
		Source:              *source,
		Alias:               *alias,
		Kind:                departement.Kind(*kind),
		AuthorizeDuplicates: *dups,
		ProjectVintage:      *project,
	}
	cf.run(func(ctx context.Context, svc *frenchcities.Service, t *table.Table) (*table.Table, error) {
		return svc.FindDepartements(ctx, t, opts)
	})
}

func cmdVintage(args []string) {
	fs := flag.NewFlagSet("vintage", flag.ExitOnError)
	cf := newCSVFlags(fs)
	field := fs.String("field", "", "column holding INSEE city codes (required)")
	year := fs.Int("year", 0, "target year (required)")
	fs.Parse(args)
	if *field == "" || *year == 0 {
		fmt.Fprintln(os.Stderr, "-field and -year are required")
		fs.Usage()
		os.Exit(2)
	}

	cf.run(func(ctx context.Context, svc *frenchcities.Service, t *table.Table) (*table.Table, error) {
		return svc.SetVintage(ctx, t, *year, *field)
	})
}
