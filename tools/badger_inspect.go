package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"

	"chat-relay/domain"
	"chat-relay/repositories"
	"chat-relay/services"

	"github.com/dgraph-io/badger/v4"
	"github.com/mama165/sdk-go/logs"
	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"
)

const bodyPreview = 60

func main() {
	dbPath := flag.String("db", "./data/badger", "Path to badger DB")
	project := flag.String("project", "", "Only show this project")
	purge := flag.String("purge", "", "Delete every message of this project, the relay must be stopped")
	flag.Parse()

	if *purge != "" {
		db, err := badger.Open(badger.DefaultOptions(*dbPath).WithLogger(nil))
		if err != nil {
			log.Fatal("Error while opening Badger: ", err)
		}
		count, err := purgeProject(context.Background(), logs.GetLoggerFromLevel(slog.LevelInfo), db, domain.ProjectID(*purge))
		_ = db.Close()
		if err != nil {
			log.Fatal(err)
		}
		fmt.Printf("Purged %d messages of project %s\n", count, *purge)
		return
	}

	db, err := openDB(*dbPath)
	if err != nil {
		log.Fatal("Error while opening Badger: ", err)
	}
	defer db.Close()

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Key", "Project", "Id", "Sender", "Kind", "Created", "Body"})
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")

	prefix := "msg:"
	if *project != "" {
		prefix = fmt.Sprintf("msg:%s:", *project)
	}

	err = db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefixBytes := []byte(prefix)
		for it.Seek(prefixBytes); it.ValidForPrefix(prefixBytes); it.Next() {
			item := it.Item()
			err := item.Value(func(v []byte) error {
				m, err := repositories.DecodeMessage(v)
				if err != nil {
					fmt.Printf("Error decoding key %s: %v\n", string(item.Key()), err)
					return nil
				}
				body := m.Body
				if strings.HasPrefix(body, "data:") {
					body = fmt.Sprintf("<image %d bytes>", len(body))
				}
				if len([]rune(body)) > bodyPreview {
					body = string([]rune(body)[:bodyPreview]) + "…"
				}
				table.Append([]string{
					string(item.Key()),
					string(m.ProjectID),
					m.ID.String()[:8],
					m.SenderID,
					lo.Ternary(m.Deleted, "deleted", string(m.Kind)),
					m.CreatedAt.Format("2006-01-02 15:04:05"),
					body,
				})
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		log.Fatal(err)
	}

	table.Render()
}

// purgeProject drops the log of a deleted project through the message service.
func purgeProject(ctx context.Context, log *slog.Logger, db *badger.DB, projectID domain.ProjectID) (int, error) {
	repository, err := repositories.NewMessageRepository(db, log)
	if err != nil {
		return 0, err
	}
	defer repository.Close()
	return services.NewMessageService(log, repository).PurgeProject(ctx, projectID)
}

// openDB opens the log read-only, next to a running relay if needed.
func openDB(path string) (*badger.DB, error) {
	opts := badger.DefaultOptions(path).
		WithReadOnly(true).
		WithLogger(nil).
		WithBypassLockGuard(true)
	return badger.Open(opts)
}
