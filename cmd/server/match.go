package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"magnet-queue/internal/domain"
	"magnet-queue/internal/release"
)

func matchCommand() *cobra.Command {
	var (
		file         string
		q            release.Query
		smallest     bool
		alternatives int
	)

	command := &cobra.Command{
		Use:   "match",
		Short: "Pick a release link from a JSON list of search results",
		Long: `Reads candidates as a JSON array of {"title","link","size"} objects,
ranked best first, and prints the link of the first one matching the query.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			candidates, err := readCandidates(cmd.InOrStdin(), file)
			if err != nil {
				return err
			}
			return runMatch(cmd.OutOrStdout(), q, release.Dedupe(candidates), smallest, alternatives)
		},
	}

	flags := command.Flags()
	flags.StringVarP(&file, "file", "f", "-", "candidates file, - for stdin")
	flags.StringVar(&q.Name, "name", "", "release name")
	flags.StringVar(&q.SearchName, "search-name", "", "alternative name used by uploaders")
	flags.IntVar(&q.Season, "season", 1, "season number")
	flags.IntVar(&q.Episode, "episode", 0, "episode number")
	flags.BoolVar(&q.Batch, "batch", false, "look for a whole-season batch")
	flags.BoolVar(&q.Movie, "movie", false, "the release is a movie")
	flags.StringVar(&q.Resolution, "resolution", release.DefaultResolution, "required resolution tag")
	flags.StringSliceVar(&q.Excluded, "exclude", []string{release.DefaultExcluded}, "tags rejected for single episodes")
	flags.StringSliceVar(&q.Codecs, "codec", nil, "require one of these codec tokens")
	flags.StringSliceVar(&q.BatchUploaders, "batch-uploader", nil, "restrict batches to these uploader tags")
	flags.BoolVar(&smallest, "smallest", false, "fall back to the smallest candidate when nothing matches")
	flags.IntVar(&alternatives, "alternatives", 5, "how many alternatives to list when nothing matches")
	_ = command.MarkFlagRequired("name")

	return command
}

func readCandidates(stdin io.Reader, file string) ([]release.Candidate, error) {
	r := stdin
	if file != "-" {
		f, err := os.Open(file)
		if err != nil {
			return nil, fmt.Errorf("open candidates: %w", err)
		}
		defer f.Close()
		r = f
	}
	var candidates []release.Candidate
	if err := json.NewDecoder(r).Decode(&candidates); err != nil {
		return nil, fmt.Errorf("decode candidates: %w", err)
	}
	return candidates, nil
}

func runMatch(out io.Writer, q release.Query, candidates []release.Candidate, smallest bool, alternatives int) error {
	match, err := release.Match(q, candidates)
	if err == nil {
		fmt.Fprintln(out, match.Link)
		return nil
	}
	if !errors.Is(err, domain.ErrNoMatchFound) {
		return err
	}

	if smallest {
		if pick, serr := release.Smallest(candidates); serr == nil {
			fmt.Fprintln(out, pick.Link)
			return nil
		}
	}

	alts := release.Alternatives(q, candidates, alternatives)
	if len(alts) > 0 {
		fmt.Fprintln(out, "no exact match, closest titles:")
		for _, c := range alts {
			fmt.Fprintf(out, "  %s\t%s\t%s\n", c.Title, c.Size, c.Link)
		}
	}
	return err
}
