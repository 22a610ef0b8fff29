package main

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/automerge/automerge-go"
	"github.com/spf13/cobra"

	"github.com/driftsync/driftlist/internal/config"
	"github.com/driftsync/driftlist/pkg/notify"
	"github.com/driftsync/driftlist/pkg/room"
	"github.com/driftsync/driftlist/pkg/store"
	"github.com/driftsync/driftlist/pkg/views"
)

var joinCmd = &cobra.Command{
	Use:   "join <room>",
	Short: "Join a room and work the lists interactively",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		relayURL, _ := cmd.Flags().GetString("relay")
		if relayURL == "" {
			relayURL = cfg.RelayURL
		}
		name, _ := cmd.Flags().GetString("name")
		color, _ := cmd.Flags().GetString("color")
		memory, _ := cmd.Flags().GetBool("memory")

		userID, err := room.EnsureUserID(cfg.ProfileDir)
		if err != nil {
			return err
		}
		replicaPath := ""
		if !memory {
			replicaPath = cfg.ProfileDir + "/replicas.sqlite"
		}

		notifier := notify.Func(func(n notify.Notification) {
			fmt.Printf("! %s: %s\n", n.Title, n.Message)
		})
		r, err := room.Open(cmd.Context(), room.Options{
			RoomID:      args[0],
			RelayURL:    relayURL,
			ReplicaPath: replicaPath,
			UserID:      userID,
			DisplayName: name,
			Color:       color,
			Notifier:    notifier,
		})
		if err != nil {
			return err
		}
		defer func() { _ = r.Close() }()

		session := &joinSession{room: r, by: userID}
		unsub := r.Views.Subscribe(session.render)
		defer unsub()
		session.render(r.Views.Current())
		return session.repl(os.Stdin)
	},
}

func init() {
	joinCmd.Flags().String("relay", "", "relay base URL (overrides DRIFTLIST_RELAY_URL)")
	joinCmd.Flags().String("name", "anonymous", "display name shown to other users")
	joinCmd.Flags().String("color", "#888888", "presence color shown to other users")
	joinCmd.Flags().Bool("memory", false, "skip the durable local replica")
	rootCmd.AddCommand(joinCmd)
}

// joinSession holds the numbering of the last render so commands can refer
// to tasks by position instead of id.
type joinSession struct {
	room *room.Room
	by   string

	mu      sync.Mutex
	numbers []string
}

func (s *joinSession) render(p *views.Projection) {
	if p == nil {
		return
	}
	snap := s.room.Store.Snapshot()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.numbers = s.numbers[:0]

	fmt.Println("----")
	if len(p.Focus) > 0 {
		fmt.Println("Focus:")
		for _, t := range p.Focus {
			s.printTask(t)
		}
	}
	if len(p.Due) > 0 {
		fmt.Println("Due:")
		for _, t := range p.Due {
			s.printTask(t)
		}
	}
	for _, listID := range sortedListIDs(p, snap) {
		b := p.ByList[listID]
		if len(b.Uncompleted) == 0 && len(b.Completed) == 0 {
			continue
		}
		name := "Uncategorized"
		if l, ok := snap.Lists[listID]; ok {
			name = l.Name
		}
		fmt.Printf("%s:\n", name)
		for _, t := range b.Uncompleted {
			s.printTask(t)
		}
		for _, t := range b.Completed {
			s.printTask(t)
		}
	}
}

// printTask assigns the task the next display number. Caller holds mu.
func (s *joinSession) printTask(t store.Task) {
	s.numbers = append(s.numbers, t.ID)
	mark := " "
	if t.Completed {
		mark = "x"
	}
	extra := ""
	if t.DueDate != "" {
		extra = " due:" + t.DueDate
	}
	fmt.Printf("  %3d [%s] %s%s\n", len(s.numbers), mark, t.Title, extra)
}

func sortedListIDs(p *views.Projection, snap *store.Snapshot) []string {
	ids := make([]string, 0, len(p.ByList))
	for id := range p.ByList {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		// Uncategorized renders first, then by list name.
		if ids[i] == "" || ids[j] == "" {
			return ids[i] == ""
		}
		return snap.Lists[ids[i]].Name < snap.Lists[ids[j]].Name
	})
	return ids
}

func (s *joinSession) taskID(arg string) (string, error) {
	n, err := strconv.Atoi(arg)
	if err != nil {
		return "", fmt.Errorf("expected a task number, got %q", arg)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if n < 1 || n > len(s.numbers) {
		return "", fmt.Errorf("no task numbered %d on screen", n)
	}
	return s.numbers[n-1], nil
}

func (s *joinSession) repl(in *os.File) error {
	scanner := bufio.NewScanner(in)
	fmt.Println("commands: add <title> | done <n> | undo <n> | focus <n> | due <n> <yyyy-mm-dd> | edit <n> <text> | rm <n> | list <name> | users | status | quit")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		cmd, rest, _ := strings.Cut(line, " ")
		if cmd == "quit" || cmd == "exit" {
			return nil
		}
		if err := s.dispatch(cmd, rest); err != nil {
			fmt.Printf("! %s\n", err)
		}
	}
	return scanner.Err()
}

func (s *joinSession) dispatch(cmd, rest string) error {
	switch cmd {
	case "add":
		if rest == "" {
			return fmt.Errorf("add needs a title")
		}
		_, err := s.room.Store.AddTask(store.TaskDraft{Title: rest, By: s.by})
		return err
	case "done", "undo":
		id, err := s.taskID(rest)
		if err != nil {
			return err
		}
		return s.room.Store.SetTaskCompleted(id, cmd == "done", s.by)
	case "focus":
		id, err := s.taskID(rest)
		if err != nil {
			return err
		}
		t, ok := s.room.Store.Task(id)
		if !ok {
			return store.ErrEntityNotFound
		}
		return s.room.Store.SetTaskFocus(id, !t.Focus, s.by)
	case "due":
		arg, date, _ := strings.Cut(rest, " ")
		id, err := s.taskID(arg)
		if err != nil {
			return err
		}
		return s.room.Store.SetTaskDueDate(id, strings.TrimSpace(date), s.by)
	case "edit":
		arg, text, _ := strings.Cut(rest, " ")
		id, err := s.taskID(arg)
		if err != nil {
			return err
		}
		s.room.Awareness.SetEditing(id)
		defer s.room.Awareness.ClearEditing()
		return s.room.Store.EditTaskBody(id, s.by, func(body *automerge.Text) error {
			if cur, err := body.Get(); err == nil && cur != "" {
				if err := body.Append("\n"); err != nil {
					return err
				}
			}
			return body.Append(text)
		})
	case "rm":
		id, err := s.taskID(rest)
		if err != nil {
			return err
		}
		return s.room.Store.DeleteTask(id)
	case "list":
		if rest == "" {
			return fmt.Errorf("list needs a name")
		}
		_, err := s.room.Store.AddList(rest)
		return err
	case "users":
		online, offline := s.room.OnlineUsers()
		for _, u := range online {
			editing := ""
			if len(u.EditingIDs) > 0 {
				editing = fmt.Sprintf(" (editing %d)", len(u.EditingIDs))
			}
			fmt.Printf("  online  %s%s\n", u.User.Name, editing)
		}
		for _, rec := range offline {
			fmt.Printf("  offline %s\n", rec.Name)
		}
		return nil
	case "status":
		st := s.room.Channel.Status()
		fmt.Printf("  %s (synced=%t unacked=%d)\n", st.State, st.Synced, st.Unacked)
		return nil
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}
