package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/fmpcd/fmpcd/container/pcd/pcddef"
	"github.com/urfave/cli/v2"
	"go4.org/must"
)

type namedObject struct {
	Kind   string `json:"kind"`
	Name   string `json:"name"`
	Object any    `json:"object"`
}

func dumpTable(w io.Writer, s *session, title string, addr pcddef.Addr, size int) error {
	if addr == 0 || size == 0 {
		return nil
	}
	b := make([]byte, size)
	if e := s.mem.Read(addr, b); e != nil {
		return e
	}
	fmt.Fprintf(w, "# %s @%s\n%s", title, addr, hex.Dump(b))
	return nil
}

func printCompiled(w io.Writer, s *session, hexdump bool) error {
	for _, name := range s.rules.NodeNames() {
		info, e := s.reg.NodeInfo(s.rules.Nodes[name])
		if e != nil {
			return e
		}
		if e := printJSON(w, namedObject{"node", name, info}); e != nil {
			return e
		}
		if !hexdump {
			continue
		}
		if e := dumpTable(w, s, name+" AD table", info.ContLookup.ADTable, info.ADTableSize()); e != nil {
			return e
		}
		if e := dumpTable(w, s, name+" key table", info.ContLookup.KeyTable, info.Layout.TableSize(info.NumKeys())); e != nil {
			return e
		}
	}

	for _, name := range s.rules.TreeNames() {
		info, e := s.reg.TreeInfo(s.rules.Trees[name])
		if e != nil {
			return e
		}
		if e := printJSON(w, namedObject{"tree", name, info}); e != nil {
			return e
		}
		if hexdump {
			nEntries := 0
			for _, g := range info.Groups {
				nEntries += len(g.Entries)
			}
			if e := dumpTable(w, s, name+" AD table", info.ADTable, nEntries*pcddef.ADSize); e != nil {
				return e
			}
		}
	}

	var manips []string
	for name := range s.rules.Manips {
		manips = append(manips, name)
	}
	sort.Strings(manips)
	for _, name := range manips {
		info, e := s.reg.ManipInfo(s.rules.Manips[name])
		if e != nil {
			return e
		}
		if e := printJSON(w, namedObject{"manip", name, info}); e != nil {
			return e
		}
	}
	return printJSON(w, namedObject{"muram", rulesFile, s.mem.Usage()})
}

func init() {
	var hexdump bool
	defineCommand(&cli.Command{
		Name:  "compile",
		Usage: "Compile rules and print node, tree, and manipulation descriptors",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "hexdump",
				Usage:       "dump AD and key tables",
				Destination: &hexdump,
			},
		},
		Action: func(c *cli.Context) error {
			s, e := openSession()
			if e != nil {
				return e
			}
			defer must.Close(s)
			return printCompiled(os.Stdout, s, hexdump)
		},
	})
}
