// CLAUDE:SUMMARY import, check-sources and clear-cache subcommands over the reference-table importers and the caches.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/hazyhaar/french-cities/pkg/frenchcities"
	"github.com/hazyhaar/french-cities/pkg/importer"
)

func cmdImport(args []string) {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	cfgPath := configFlag(fs)
	source := fs.String("source", "", "adapter ID to import (e.g. laposte-hexasmal)")
	all := fs.Bool("all", false, "import all available sources")
	url := fs.String("url", "", "record a new source URL for -source before importing")
	fs.Parse(args)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Hour)
	defer cancel()
	svc, _, _ := openService(ctx, *cfgPath, frenchcities.SkipPostalImport())
	defer svc.Close()
	sdb := svc.Sources()

	if !*all && *source == "" {
		fmt.Println("Sources disponibles :")
		fmt.Println()
		sources, _ := sdb.ListSources()
		for _, src := range sources {
			status := ""
			if src.LastStatus != nil {
				status = fmt.Sprintf("  [%d]", *src.LastStatus)
			}
			imported := "jamais importée"
			if src.LastImport != nil {
				imported = "importée le " + time.Unix(*src.LastImport, 0).Format("2006-01-02 15:04")
			}
			fmt.Printf("  %-20s  %s  (-> %s, %s)%s\n", src.AdapterID, src.Description, src.Target, imported, status)
		}
		fmt.Println()
		fmt.Println("Usage :")
		fmt.Println("  frenchcities import --source <id> [--url <url>]")
		fmt.Println("  frenchcities import --all")
		return
	}

	ids := []string{*source}
	if *all {
		ids = ids[:0]
		for _, a := range importer.All() {
			ids = append(ids, a.ID())
		}
	} else if *url != "" {
		if err := sdb.SetURL(*source, *url); err != nil {
			fmt.Fprintf(os.Stderr, "[%s] ERREUR (URL): %v\n", *source, err)
			os.Exit(1)
		}
	}

	failed := 0
	for _, id := range ids {
		fmt.Printf("[%s] Import en cours...\n", id)
		if err := svc.Import(ctx, id); err != nil {
			fmt.Fprintf(os.Stderr, "[%s] ERREUR: %v\n", id, err)
			failed++
			continue
		}
		fmt.Printf("[%s] OK\n", id)
	}
	if failed > 0 {
		os.Exit(1)
	}
}

func cmdCheckSources(args []string) {
	fs := flag.NewFlagSet("check-sources", flag.ExitOnError)
	cfgPath := configFlag(fs)
	fs.Parse(args)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	svc, _, _ := openService(ctx, *cfgPath, frenchcities.SkipPostalImport())
	defer svc.Close()

	report := svc.CheckSources(ctx)
	for _, c := range report.Failed() {
		fmt.Fprintf(os.Stderr, "  %-24s %-8s HTTP %d %v\n", c.AdapterID, c.Target, c.Status, c.Err)
	}
	for _, target := range report.StrandedTargets() {
		fmt.Fprintf(os.Stderr, "Aucune source joignable pour la table %q\n", target)
	}
	if failed := len(report.Failed()); failed > 0 {
		fmt.Fprintf(os.Stderr, "%d source(s) en erreur\n", failed)
		os.Exit(1)
	}
	fmt.Println("Toutes les sources répondent.")
}

func cmdClearCache(args []string) {
	fs := flag.NewFlagSet("clear-cache", flag.ExitOnError)
	cfgPath := configFlag(fs)
	fs.Parse(args)

	ctx := context.Background()
	svc, _, logger := openService(ctx, *cfgPath, frenchcities.SkipPostalImport())
	defer svc.Close()
	if err := svc.ClearCache(ctx); err != nil {
		logger.Error("clear cache", "error", err)
		os.Exit(1)
	}
}
