// redoctl inspects and prunes a durable redo task store.
//
// Usage:
//
//	redoctl list
//	redoctl remove <task-id>
//
// The store is selected by redo.yaml / REDO_* environment variables
// (REDO_STORE=sqlite|redis plus the matching connection settings).
package main

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"text/tabwriter"

	"github.com/redis/go-redis/v9"

	redo "github.com/calleros/redo-go"
	"github.com/calleros/redo-go/internal/logger"
	"github.com/calleros/redo-go/redisstore"
	"github.com/calleros/redo-go/sqlitestore"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	settings, err := redo.LoadSettings()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load settings: %v\n", err)
		os.Exit(1)
	}
	logger.Init(settings.LogLevel, settings.LogFile)

	store, closeStore, err := openStore(settings)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open store: %v\n", err)
		os.Exit(1)
	}
	defer closeStore()

	switch os.Args[1] {
	case "list":
		err = list(store)
	case "remove":
		if len(os.Args) < 3 {
			usage()
			os.Exit(2)
		}
		err = remove(store, os.Args[2])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: redoctl list | redoctl remove <task-id>")
}

func openStore(settings *redo.Settings) (redo.Store, func(), error) {
	switch settings.Store {
	case "sqlite":
		s, err := sqlitestore.Open(settings.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     settings.RedisAddr,
			Password: settings.RedisPassword,
			DB:       settings.RedisDB,
		})
		s := redisstore.New(client, redisstore.Options{Timeout: settings.RedisTimeout})
		return s, func() { client.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("store %q is not durable; set store to sqlite or redis", settings.Store)
	}
}

func list(store redo.Store) error {
	tasks, err := store.All()
	if err != nil {
		return err
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tRUNNER\tKIND\tRETRIES\tMAX\tSTATE\tNEXT RUN")
	for _, t := range tasks {
		next := "-"
		if !t.NextRunTime.IsZero() {
			next = t.NextRunTime.Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			t.ID, t.Name, t.RunnerName, t.Kind, t.RetryCount, t.MaxRetry, t.State, next)
	}
	return w.Flush()
}

func remove(store redo.Store, arg string) error {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid task id %q", arg)
	}
	if err := store.Remove(id); err != nil {
		return err
	}
	fmt.Printf("task %d removed\n", id)
	return nil
}
