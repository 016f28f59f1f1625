package repl

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/learn-decentralized-systems/toytlv"

	arke "github.com/Arke-Institute/arke-ipfs-api-sub001"
	"github.com/Arke-Institute/arke-ipfs-api-sub001/aid"
)

var HelpCreate = errors.New("create [label...]")

func (repl *REPL) CommandCreate(ctx context.Context, args []string) error {
	req := arke.CreateRequest{}
	if len(args) > 0 {
		req.Label = args[0]
	}
	m, cid, err := repl.Store.CreateEntity(ctx, req)
	if err != nil {
		return err
	}
	fmt.Printf("%s v%d %s\n", m.ID, m.Version, cid)
	return nil
}

var HelpGet = errors.New("get <id>")

func (repl *REPL) CommandGet(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return HelpGet
	}
	id, err := aid.Parse(args[0])
	if err != nil {
		return err
	}
	m, cid, err := repl.Store.Tip(ctx, id)
	if err != nil {
		return err
	}
	printManifest(m, cid)
	return nil
}

var HelpAt = errors.New("at <id> <version>")

func (repl *REPL) CommandAt(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return HelpAt
	}
	id, err := aid.Parse(args[0])
	if err != nil {
		return err
	}
	n, err := strconv.ParseUint(args[1], 10, 64)
	if err != nil {
		return HelpAt
	}
	m, cid, err := repl.Store.ManifestAt(ctx, id, n)
	if err != nil {
		return err
	}
	printManifest(m, cid)
	return nil
}

var HelpHistory = errors.New("history <id>")

func (repl *REPL) CommandHistory(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return HelpHistory
	}
	id, err := aid.Parse(args[0])
	if err != nil {
		return err
	}
	m, _, err := repl.Store.Tip(ctx, id)
	if err != nil {
		return err
	}
	for v := m.Version; v >= 1; v-- {
		mv, cv, err := repl.Store.ManifestAt(ctx, id, v)
		if err != nil {
			return err
		}
		fmt.Printf("v%d\t%s\t%s\t%s\n", mv.Version, cv, mv.Status, mv.Timestamp)
	}
	return nil
}

var HelpSet = errors.New("set <id> <expect-tip> <component> <cid>")

func (repl *REPL) CommandSet(ctx context.Context, args []string) error {
	if len(args) != 4 {
		return HelpSet
	}
	id, err := aid.Parse(args[0])
	if err != nil {
		return err
	}
	mut := &arke.Mutation{
		SetComponents: map[string]arke.CID{args[2]: arke.CID(args[3])},
	}
	m, cid, err := repl.Store.CommitMutation(ctx, id, arke.CID(args[1]), mut)
	if err != nil {
		return err
	}
	fmt.Printf("v%d %s\n", m.Version, cid)
	return nil
}

var HelpLabel = errors.New("label <id> <expect-tip> <text>")

func (repl *REPL) CommandLabel(ctx context.Context, args []string) error {
	if len(args) != 3 {
		return HelpLabel
	}
	id, err := aid.Parse(args[0])
	if err != nil {
		return err
	}
	mut := &arke.Mutation{Label: &args[2]}
	m, cid, err := repl.Store.CommitMutation(ctx, id, arke.CID(args[1]), mut)
	if err != nil {
		return err
	}
	fmt.Printf("v%d %s\n", m.Version, cid)
	return nil
}

var HelpMerge = errors.New("merge <src> <expect-tip> <target>")

func (repl *REPL) CommandMerge(ctx context.Context, args []string) error {
	if len(args) != 3 {
		return HelpMerge
	}
	src, err := aid.Parse(args[0])
	if err != nil {
		return err
	}
	target, err := aid.Parse(args[2])
	if err != nil {
		return err
	}
	res, err := repl.Store.Merge(ctx, src, target, arke.CID(args[1]), "")
	if err != nil {
		return err
	}
	fmt.Printf("%s merged into %s, v%d %s\n",
		src, res.ResolvedTarget, res.SourceVersion, res.SourceCID)
	return nil
}

var HelpUnmerge = errors.New("unmerge <id> <expect-tip> [version]")

func (repl *REPL) CommandUnmerge(ctx context.Context, args []string) error {
	if len(args) != 2 && len(args) != 3 {
		return HelpUnmerge
	}
	id, err := aid.Parse(args[0])
	if err != nil {
		return err
	}
	var from uint64
	if len(args) == 3 {
		if from, err = strconv.ParseUint(args[2], 10, 64); err != nil {
			return HelpUnmerge
		}
	}
	res, err := repl.Store.Unmerge(ctx, id, arke.CID(args[1]), from, "")
	if err != nil {
		return err
	}
	fmt.Printf("%s restored from v%d, now v%d %s\n",
		id, res.RestoredFrom, res.NewVersion, res.CID)
	return nil
}

// CommandWatch streams commit events until the feed closes.
func (repl *REPL) CommandWatch(ctx context.Context, args []string) error {
	feed := repl.Store.AddEventHose("repl")
	defer func() { _ = repl.Store.RemoveEventHose("repl") }()
	for {
		recs, err := feed.Feed()
		if err != nil {
			return nil
		}
		for _, rec := range recs {
			body, _ := toytlv.Take('E', rec)
			fmt.Printf("%s\n", body)
		}
	}
}

func (repl *REPL) CommandHelp() error {
	fmt.Print(
		"create [label]\n" +
			"get <id>\n" +
			"at <id> <version>\n" +
			"history <id>\n" +
			"set <id> <expect-tip> <component> <cid>\n" +
			"label <id> <expect-tip> <text>\n" +
			"merge <src> <expect-tip> <target>\n" +
			"unmerge <id> <expect-tip> [version]\n" +
			"watch\n" +
			"exit\n")
	return nil
}

func printManifest(m *arke.Manifest, cid arke.CID) {
	fmt.Printf("%s v%d %s\n", m.ID, m.Version, cid)
	fmt.Printf("  status: %s", m.Status)
	if m.MergedInto != aid.BadID {
		fmt.Printf(" -> %s", m.MergedInto)
	}
	fmt.Println()
	if m.Label != "" {
		fmt.Printf("  label: %s\n", m.Label)
	}
	for name, c := range m.Components {
		fmt.Printf("  %s: %s\n", name, c)
	}
}
