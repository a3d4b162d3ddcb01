// Command xrep is a thin wiring example, not a full CLI: it demonstrates
// building a search.Searcher and feeding a single file — transparently
// decompressing or ZIP-streaming it first when the extension calls for
// it — through the line searcher. Flag parsing, directory walking, and
// gitignore handling are deliberately out of scope.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"io/ioutil"
	"os"

	"github.com/textql/xrep/archive/decompress"
	"github.com/textql/xrep/archive/magic"
	"github.com/textql/xrep/archive/zip"
	"github.com/textql/xrep/search"
)

func main() {
	ignoreCase := flag.Bool("i", false, "case insensitive")
	wholeWord := flag.Bool("w", false, "whole word")
	flag.Parse()

	args := flag.Args()
	if len(args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: xrep [-i] [-w] PATTERN FILE")
		os.Exit(2)
	}
	pattern, path := args[0], args[1]

	searcher, err := search.NewBuilder(pattern,
		search.CaseInsensitive(*ignoreCase),
		search.WholeWord(*wholeWord),
	).Build()
	if err != nil {
		fmt.Fprintln(os.Stderr, "xrep:", err)
		os.Exit(2)
	}

	if err := run(searcher, path); err != nil {
		fmt.Fprintln(os.Stderr, "xrep:", err)
		os.Exit(1)
	}
}

func run(searcher *search.Searcher, path string) error {
	ctx := context.Background()

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	r, err := magic.NewReader(f)
	if err != nil {
		return err
	}

	switch {
	case r.Magic() == magic.Zip:
		return searchZip(ctx, searcher, r)
	case decompress.IsCompressed(path):
		dr, ok := decompress.GetReader(ctx, path, false)
		if !ok {
			// Fall through and search the raw bytes, matching the
			// original's behavior of treating an unsupported or
			// unavailable decompressor as "search it as-is".
			return searchPlain(searcher, r)
		}
		defer dr.Close()
		return searchReader(searcher, dr, path)
	default:
		return searchPlain(searcher, r)
	}
}

func searchPlain(searcher *search.Searcher, r io.Reader) error {
	return searchReader(searcher, r, "")
}

func searchReader(searcher *search.Searcher, r io.Reader, name string) error {
	buf, err := ioutil.ReadAll(r)
	if err != nil {
		return err
	}
	printMatches(searcher, buf, name)
	return nil
}

func searchZip(ctx context.Context, searcher *search.Searcher, r io.Reader) error {
	return zip.ForEachEntry(ctx, bufio.NewReader(r), func(name string, body io.Reader, entryErr error) (zip.Action, error) {
		if entryErr != nil {
			fmt.Fprintf(os.Stderr, "xrep: %s: %v\n", name, entryErr)
			return zip.Continue, nil
		}
		buf, err := ioutil.ReadAll(body)
		if err != nil {
			return zip.Continue, err
		}
		printMatches(searcher, buf, name)
		return zip.Continue, nil
	})
}

func printMatches(searcher *search.Searcher, buf []byte, name string) {
	it := searcher.Iter(buf)
	for {
		m, ok := it.Next()
		if !ok {
			break
		}
		line := buf[m.Start:m.End]
		if name != "" {
			fmt.Printf("%s:%s", name, line)
		} else {
			fmt.Printf("%s", line)
		}
	}
}
