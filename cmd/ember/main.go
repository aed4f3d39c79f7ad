// Command ember is a thin front-end over the ember library: build an index
// from a CSV/JSONL file, query it from the shell, or serve the demo search
// API.
//
//	ember index  --file songs.csv --cols title,artist --out songs_db
//	ember search --db songs_db --query "pink floyd" -k 10
//	ember serve  --file songs.csv --cols title,artist --addr :8080
package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/wizenheimer/ember"
)

var (
	flagFile  string
	flagCols  []string
	flagDB    string
	flagOut   string
	flagQuery string
	flagK     int
	flagAddr  string
	flagStops bool
)

func main() {
	root := &cobra.Command{
		Use:           "ember",
		Short:         "In-memory BM25 search over CSV and JSONL corpora",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(indexCmd(), searchCmd(), serveCmd())
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "ember:", err)
		os.Exit(1)
	}
}

// openEngine builds from --file/--cols or loads from --db.
func openEngine() (*ember.Engine, error) {
	switch {
	case flagDB != "" && flagFile != "":
		return nil, fmt.Errorf("pass either --db or --file, not both")
	case flagDB != "":
		return ember.Load(flagDB)
	case flagFile != "":
		if len(flagCols) == 0 {
			return nil, fmt.Errorf("--file requires --cols")
		}
		opts := ember.DefaultOptions()
		if flagStops {
			opts.Stopwords = ember.EnglishStopwords()
		}
		e, err := ember.New(opts)
		if err != nil {
			return nil, err
		}
		if err := e.IndexFile(flagFile, flagCols); err != nil {
			return nil, err
		}
		return e, nil
	}
	return nil, fmt.Errorf("pass --db or --file")
}

func addSourceFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&flagFile, "file", "", "CSV or JSONL file to index")
	cmd.Flags().StringSliceVar(&flagCols, "cols", nil, "columns to index")
	cmd.Flags().StringVar(&flagDB, "db", "", "load a saved index directory instead")
	cmd.Flags().BoolVar(&flagStops, "english-stopwords", false, "drop the builtin english stopword list")
}

func indexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Build an index from a file and save it",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEngine()
			if err != nil {
				return err
			}
			if err := e.Save(flagOut); err != nil {
				return err
			}
			fmt.Printf("indexed %d documents into %s\n", e.NumDocs(), flagOut)
			return nil
		},
	}
	addSourceFlags(cmd)
	cmd.Flags().StringVar(&flagOut, "out", "", "directory to save the index into")
	cmd.MarkFlagRequired("file")
	cmd.MarkFlagRequired("out")
	return cmd
}

func searchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Run one query and print the top hits",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEngine()
			if err != nil {
				return err
			}
			start := time.Now()
			hits, err := e.TopKDocs(ember.Broadcast(flagQuery), flagK)
			if err != nil {
				return err
			}
			elapsed := time.Since(start)
			for i, h := range hits {
				parts := make([]string, 0, len(h.Columns))
				for _, col := range e.ColumnNames() {
					parts = append(parts, fmt.Sprintf("%s=%q", col, h.Columns[col]))
				}
				fmt.Printf("%2d. doc %-8d score %.4f  %s\n", i+1, h.DocID, h.Score, strings.Join(parts, " "))
			}
			fmt.Printf("%d hits in %s\n", len(hits), elapsed)
			return nil
		},
	}
	addSourceFlags(cmd)
	cmd.Flags().StringVarP(&flagQuery, "query", "q", "", "query string, broadcast to every indexed field")
	cmd.Flags().IntVarP(&flagK, "k", "k", 10, "number of results")
	cmd.MarkFlagRequired("query")
	return cmd
}

// ═══════════════════════════════════════════════════════════════════════════════
// DEMO SEARCH API
// ═══════════════════════════════════════════════════════════════════════════════
// GET  /search?title=...&artist=...   one query parameter per search column
// HEAD /healthcheck
// GET  /get_columns                   score, then search columns, then the rest
// GET  /get_search_columns

func serveCmd() *cobra.Command {
	var serveK int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the demo search API",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEngine()
			if err != nil {
				return err
			}
			gin.SetMode(gin.ReleaseMode)
			r := gin.Default()

			r.HEAD("/healthcheck", func(c *gin.Context) {
				c.Status(200)
			})

			r.GET("/search", func(c *gin.Context) {
				query := make(map[string]string, len(e.Fields()))
				for _, col := range e.Fields() {
					if v := c.Query(col); v != "" {
						query[col] = v
					}
				}
				start := time.Now()
				hits, err := e.TopKDocs(ember.Named(query), serveK)
				if err != nil {
					c.JSON(500, gin.H{"error": err.Error()})
					return
				}
				results := make([]gin.H, len(hits))
				for i, h := range hits {
					row := gin.H{"score": h.Score}
					for col, v := range h.Columns {
						row[col] = v
					}
					results[i] = row
				}
				c.JSON(200, gin.H{
					"results":       results,
					"time_taken_ms": float64(time.Since(start).Microseconds()) / 1e3,
				})
			})

			r.GET("/get_columns", func(c *gin.Context) {
				// Search columns and the synthetic score column lead.
				cols := append([]string{"score"}, e.Fields()...)
				seen := make(map[string]bool, len(cols))
				for _, col := range cols {
					seen[col] = true
				}
				for _, col := range e.ColumnNames() {
					if !seen[col] {
						cols = append(cols, col)
					}
				}
				c.JSON(200, gin.H{"columns": cols})
			})

			r.GET("/get_search_columns", func(c *gin.Context) {
				c.JSON(200, gin.H{"columns": e.Fields()})
			})

			fmt.Printf("serving %d documents on %s\n", e.NumDocs(), flagAddr)
			return r.Run(flagAddr)
		},
	}
	addSourceFlags(cmd)
	cmd.Flags().StringVar(&flagAddr, "addr", ":8080", "listen address")
	cmd.Flags().IntVarP(&serveK, "k", "k", 50, "results per query")
	return cmd
}
