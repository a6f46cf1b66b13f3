package main

import (
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "", "world id (required unless -db)")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	sinceTick := fs.Uint64("since_tick", 0, "first tick (ticks/transfers/faults)")
	limit := fs.Int("limit", 20, "result limit")
	item := fs.String("item", "", "item filter (transfers)")
	_ = fs.Parse(args)

	q := "snapshots"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}
	if *limit <= 0 {
		*limit = 20
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		if strings.TrimSpace(*worldID) == "" {
			fmt.Fprintln(os.Stderr, "missing -world or -db")
			os.Exit(2)
		}
		path = filepath.Join(*dataDir, "worlds", *worldID, "index", "world.sqlite")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	switch q {
	case "snapshots":
		rows, err := db.Query(`SELECT tick,path,world_id,tiles,faulted,definitions_digest,recorded_at FROM snapshots ORDER BY tick DESC LIMIT ?`, *limit)
		exitOn("query", err)
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Tick              int64  `json:"tick"`
				Path              string `json:"path"`
				WorldID           string `json:"world_id"`
				Tiles             int    `json:"tiles"`
				Faulted           int    `json:"faulted"`
				DefinitionsDigest string `json:"definitions_digest"`
				RecordedAt        string `json:"recorded_at"`
			}
			exitOn("scan", rows.Scan(&r.Tick, &r.Path, &r.WorldID, &r.Tiles, &r.Faulted, &r.DefinitionsDigest, &r.RecordedAt))
			printJSON(r)
		}
		exitOn("rows", rows.Err())

	case "ticks":
		rows, err := db.Query(`SELECT tick,digest,tiles,transfers,routing_faults,tile_faults,dropped,duration_ms FROM ticks WHERE tick >= ? ORDER BY tick DESC LIMIT ?`, *sinceTick, *limit)
		exitOn("query", err)
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Tick          int64   `json:"tick"`
				Digest        string  `json:"digest"`
				Tiles         int     `json:"tiles"`
				Transfers     int     `json:"transfers"`
				RoutingFaults int     `json:"routing_faults"`
				TileFaults    int     `json:"tile_faults"`
				Dropped       int     `json:"dropped"`
				DurationMs    float64 `json:"duration_ms"`
			}
			exitOn("scan", rows.Scan(&r.Tick, &r.Digest, &r.Tiles, &r.Transfers, &r.RoutingFaults, &r.TileFaults, &r.Dropped, &r.DurationMs))
			printJSON(r)
		}
		exitOn("rows", rows.Err())

	case "transfers":
		query := `SELECT tick,from_q,from_r,to_q,to_r,item,amount,COALESCE(requester,'') FROM transfers WHERE tick >= ?`
		qargs := []any{*sinceTick}
		if strings.TrimSpace(*item) != "" {
			query += ` AND item = ?`
			qargs = append(qargs, *item)
		}
		query += ` ORDER BY tick DESC, seq DESC LIMIT ?`
		qargs = append(qargs, *limit)
		rows, err := db.Query(query, qargs...)
		exitOn("query", err)
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Tick      int64  `json:"tick"`
				From      [2]int `json:"from"`
				To        [2]int `json:"to"`
				Item      string `json:"item"`
				Amount    int64  `json:"amount"`
				Requester string `json:"requester,omitempty"`
			}
			exitOn("scan", rows.Scan(&r.Tick, &r.From[0], &r.From[1], &r.To[0], &r.To[1], &r.Item, &r.Amount, &r.Requester))
			printJSON(r)
		}
		exitOn("rows", rows.Err())

	case "faults":
		rows, err := db.Query(`SELECT tick,kind,q,r,detail FROM faults WHERE tick >= ? ORDER BY tick DESC, seq DESC LIMIT ?`, *sinceTick, *limit)
		exitOn("query", err)
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Tick   int64  `json:"tick"`
				Kind   string `json:"kind"`
				Coord  [2]int `json:"coord"`
				Detail string `json:"detail"`
			}
			exitOn("scan", rows.Scan(&r.Tick, &r.Kind, &r.Coord[0], &r.Coord[1], &r.Detail))
			printJSON(r)
		}
		exitOn("rows", rows.Err())

	case "definitions":
		rows, err := db.Query(`SELECT name,digest,updated_at FROM definitions ORDER BY name`)
		exitOn("query", err)
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Name      string `json:"name"`
				Digest    string `json:"digest"`
				UpdatedAt string `json:"updated_at"`
			}
			exitOn("scan", rows.Scan(&r.Name, &r.Digest, &r.UpdatedAt))
			printJSON(r)
		}
		exitOn("rows", rows.Err())

	default:
		fmt.Fprintln(os.Stderr, "unknown query:", q, "(snapshots|ticks|transfers|faults|definitions)")
		os.Exit(2)
	}
}

func exitOn(what string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", what, err)
		os.Exit(1)
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
