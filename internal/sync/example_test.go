package sync_test

import (
	"context"
	"fmt"
	"io"
	"log"

	"github.com/Mschirtzinger/tasksync/internal/remote"
	"github.com/Mschirtzinger/tasksync/internal/remote/remotetest"
	"github.com/Mschirtzinger/tasksync/internal/revision"
	"github.com/Mschirtzinger/tasksync/internal/store"
	tasksync "github.com/Mschirtzinger/tasksync/internal/sync"
	"github.com/Mschirtzinger/tasksync/internal/task"
)

// Example shows a record that is written locally while the service is
// unreachable and pushed by the sweep once it comes back.
func Example() {
	srv := remotetest.NewServer("token")
	defer srv.Close()

	quiet := log.New(io.Discard, "", 0)
	tracker := revision.NewMemory(0)
	client, err := remote.New(remote.Config{
		BaseURL: srv.URL,
		Token:   "token",
		Logger:  quiet,
	}, tracker)
	if err != nil {
		log.Fatal(err)
	}

	local := store.New(nil, quiet)
	orch := tasksync.New(local, client, tracker, tasksync.Config{Actor: "example", Logger: quiet})
	defer orch.Close()

	srv.SetOffline(true)
	if _, err := orch.Add(task.New("Buy milk", task.ImportanceNormal, nil)); err != nil {
		log.Fatal(err)
	}
	orch.Wait()
	fmt.Println("dirty while offline:", orch.Dirty())

	srv.SetOffline(false)
	if err := orch.Reconcile(context.Background()); err != nil {
		log.Fatal(err)
	}
	fmt.Println("dirty after sweep:", orch.Dirty())
	fmt.Println("server items:", len(srv.Items()))

	// Output:
	// dirty while offline: true
	// dirty after sweep: false
	// server items: 1
}
