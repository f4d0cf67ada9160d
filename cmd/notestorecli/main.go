// Command notestorecli is a thin example client driving a docsync.Store
// from a small YAML config file, demonstrating wiring without making
// config loading part of the store's own contract.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/docsync/docsync"
	"github.com/docsync/docsync/pkg/model"
)

type fileConfig struct {
	URL                 string  `yaml:"url"`
	Username            string  `yaml:"username"`
	Password            string  `yaml:"password"`
	Database            string  `yaml:"database"`
	Passphrase          string  `yaml:"passphrase"`
	ObfuscatePassphrase string  `yaml:"obfuscatePassphrase"`
	CustomChunkSize     float64 `yaml:"customChunkSize"`
	UseV1               bool    `yaml:"useV1"`
}

func loadConfig(path string) (docsync.Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return docsync.Config{}, fmt.Errorf("read config: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return docsync.Config{}, fmt.Errorf("parse config: %w", err)
	}
	return docsync.Config{
		URL:                 fc.URL,
		Username:            fc.Username,
		Password:            fc.Password,
		Database:            fc.Database,
		Passphrase:          fc.Passphrase,
		ObfuscatePassphrase: fc.ObfuscatePassphrase,
		CustomChunkSize:     fc.CustomChunkSize,
		UseV1:               fc.UseV1,
	}, nil
}

func main() {
	configPath := flag.String("config", "notestore.yaml", "path to a YAML config file")
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Println("Usage: notestorecli -config=notestore.yaml <command> [arguments]")
		fmt.Println("Commands:")
		fmt.Println("  get <path>")
		fmt.Println("  put <path> <file>")
		fmt.Println("  delete <path>")
		fmt.Println("  watch")
		os.Exit(1)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	store, err := docsync.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing store: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx := context.Background()
	args := flag.Args()

	switch args[0] {
	case "get":
		if len(args) < 2 {
			fmt.Println("Usage: notestorecli get <path>")
			os.Exit(1)
		}
		getPath(ctx, store, args[1])

	case "put":
		if len(args) < 3 {
			fmt.Println("Usage: notestorecli put <path> <file>")
			os.Exit(1)
		}
		putPath(ctx, store, args[1], args[2])

	case "delete":
		if len(args) < 2 {
			fmt.Println("Usage: notestorecli delete <path>")
			os.Exit(1)
		}
		if err := store.Delete(ctx, model.FilePath(args[1])); err != nil {
			fmt.Fprintf(os.Stderr, "Error deleting %s: %v\n", args[1], err)
			os.Exit(1)
		}
		fmt.Println("Deleted.")

	case "watch":
		watch(ctx, store)

	default:
		fmt.Printf("Unknown command: %s\n", args[0])
		os.Exit(1)
	}
}

func getPath(ctx context.Context, store *docsync.Store, path string) {
	entry, err := store.Get(ctx, model.FilePath(path), false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error getting %s: %v\n", path, err)
		os.Exit(1)
	}
	fmt.Printf("path=%s size=%d ctime=%d mtime=%d\n", entry.Path, entry.Size, entry.CTime, entry.MTime)
	os.Stdout.Write(entry.Data)
	fmt.Println()
}

func putPath(ctx context.Context, store *docsync.Store, path, localFile string) {
	content, err := os.ReadFile(localFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading %s: %v\n", localFile, err)
		os.Exit(1)
	}
	info, err := os.Stat(localFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error stating %s: %v\n", localFile, err)
		os.Exit(1)
	}

	mtime := info.ModTime().UnixMilli()
	putInfo := docsync.PutInfo{CTime: mtime, MTime: mtime}
	if err := store.Put(ctx, model.FilePath(path), []string{string(content)}, putInfo, model.KindPlain); err != nil {
		fmt.Fprintf(os.Stderr, "Error putting %s: %v\n", path, err)
		os.Exit(1)
	}
	fmt.Println("Stored successfully.")
}

func watch(ctx context.Context, store *docsync.Store) {
	since, err := store.FollowUpdates(ctx, "0", func(ctx context.Context, entry *model.LoadedEntry, seq string) {
		fmt.Printf("seq=%s path=%s deleted=%v\n", seq, entry.Path, entry.Deleted)
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error catching up: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Caught up to since=%s, watching continuously...\n", since)
	err = store.BeginWatch(ctx, since, func(ctx context.Context, entry *model.LoadedEntry, seq string) {
		fmt.Printf("seq=%s path=%s deleted=%v\n", seq, entry.Path, entry.Deleted)
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Watch ended: %v\n", err)
		os.Exit(1)
	}
}
