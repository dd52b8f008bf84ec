package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/fmpcd/fmpcd/container/pcd"
	"github.com/fmpcd/fmpcd/container/pcd/pcddef"
	"github.com/fmpcd/fmpcd/container/pcd/pcdrules"
	"github.com/fmpcd/fmpcd/core/jsonhelper"
	"github.com/ghodss/yaml"
	"github.com/kballard/go-shellquote"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go4.org/must"
)

type scriptCommand struct {
	usage            string
	minArgs, maxArgs int
	run              func(s *session, w io.Writer, args []string) error
}

var scriptCommands = map[string]scriptCommand{
	"add-key": {"NODE INDEX KEY ACTION [MASK]", 4, 5, func(s *session, w io.Writer, args []string) error {
		id, index, e := s.nodeIndex(args[0], args[1])
		if e != nil {
			return e
		}
		var kp pcd.KeyParams
		if kp.Key, kp.Mask, e = s.nodeKey(id, args[2], optionalArg(args, 4)); e != nil {
			return e
		}
		if kp.Action, e = s.action(args[3]); e != nil {
			return e
		}
		return s.reg.AddKey(id, index, kp)
	}},
	"remove-key": {"NODE INDEX", 2, 2, func(s *session, w io.Writer, args []string) error {
		id, index, e := s.nodeIndex(args[0], args[1])
		if e != nil {
			return e
		}
		return s.reg.RemoveKey(id, index)
	}},
	"modify-key": {"NODE INDEX KEY [MASK]", 3, 4, func(s *session, w io.Writer, args []string) error {
		id, index, e := s.nodeIndex(args[0], args[1])
		if e != nil {
			return e
		}
		key, mask, e := s.nodeKey(id, args[2], optionalArg(args, 3))
		if e != nil {
			return e
		}
		return s.reg.ModifyKey(id, index, key, mask)
	}},
	"modify-next-engine": {"NODE INDEX ACTION", 3, 3, func(s *session, w io.Writer, args []string) error {
		id, index, e := s.nodeIndex(args[0], args[1])
		if e != nil {
			return e
		}
		act, e := s.action(args[2])
		if e != nil {
			return e
		}
		return s.reg.ModifyNextEngine(id, index, act)
	}},
	"modify-miss": {"NODE ACTION", 2, 2, func(s *session, w io.Writer, args []string) error {
		id, e := s.node(args[0])
		if e != nil {
			return e
		}
		act, e := s.action(args[1])
		if e != nil {
			return e
		}
		return s.reg.ModifyMissNextEngine(id, act)
	}},
	"modify-tree": {"TREE GROUP INDEX ACTION", 4, 4, func(s *session, w io.Writer, args []string) error {
		id, e := s.treeID(args[0])
		if e != nil {
			return e
		}
		group, e := strconv.Atoi(args[1])
		if e != nil {
			return e
		}
		index, e := strconv.Atoi(args[2])
		if e != nil {
			return e
		}
		act, e := s.action(args[3])
		if e != nil {
			return e
		}
		return s.reg.ModifyTreeNextEngine(id, group, index, act)
	}},
	"bind": {"TREE PORT [PRS-RESULT-OFFSET [BUFFER-POOL]]", 2, 4, func(s *session, w io.Writer, args []string) error {
		id, e := s.treeID(args[0])
		if e != nil {
			return e
		}
		var port pcddef.Port
		if port.ID, e = strconv.Atoi(args[1]); e != nil {
			return e
		}
		if arg := optionalArg(args, 2); arg != "" {
			v, e := strconv.ParseUint(arg, 0, 8)
			if e != nil {
				return e
			}
			port.PrsResultOffset = uint8(v)
		}
		if arg := optionalArg(args, 3); arg != "" {
			v, e := strconv.ParseUint(arg, 0, 8)
			if e != nil {
				return e
			}
			port.BufferPool = uint8(v)
		}
		addr, e := s.reg.BindToPort(id, port)
		if e != nil {
			return e
		}
		return printJSON(w, map[string]any{"tree": args[0], "port": port.ID, "adTable": addr})
	}},
	"unbind": {"TREE PORT", 2, 2, func(s *session, w io.Writer, args []string) error {
		id, e := s.treeID(args[0])
		if e != nil {
			return e
		}
		port, e := strconv.Atoi(args[1])
		if e != nil {
			return e
		}
		return s.reg.UnbindFromPort(id, port)
	}},
	"lock": {"TREE", 1, 1, func(s *session, w io.Writer, args []string) error {
		id, e := s.treeID(args[0])
		if e != nil {
			return e
		}
		return s.reg.TryLockWholeSubtree(id)
	}},
	"unlock": {"TREE", 1, 1, func(s *session, w io.Writer, args []string) error {
		id, e := s.treeID(args[0])
		if e != nil {
			return e
		}
		return s.reg.ReleaseLock(id)
	}},
	"show-node": {"NODE", 1, 1, func(s *session, w io.Writer, args []string) error {
		id, e := s.node(args[0])
		if e != nil {
			return e
		}
		info, e := s.reg.NodeInfo(id)
		if e != nil {
			return e
		}
		return printJSON(w, namedObject{"node", args[0], info})
	}},
	"show-tree": {"TREE", 1, 1, func(s *session, w io.Writer, args []string) error {
		info, e := s.tree(args[0])
		if e != nil {
			return e
		}
		return printJSON(w, namedObject{"tree", args[0], info})
	}},
	"counter": {"NODE INDEX", 2, 2, func(s *session, w io.Writer, args []string) error {
		id, index, e := s.nodeIndex(args[0], args[1])
		if e != nil {
			return e
		}
		cnt, e := s.reg.GetKeyCounter(id, index)
		if e != nil {
			return e
		}
		return printJSON(w, keyCounter{args[0], index, cnt})
	}},
}

func optionalArg(args []string, i int) string {
	if i < len(args) {
		return args[i]
	}
	return ""
}

func (s *session) node(name string) (pcddef.NodeID, error) {
	id, ok := s.rules.Nodes[name]
	if !ok {
		return 0, fmt.Errorf("node %s not found", name)
	}
	return id, nil
}

func (s *session) treeID(name string) (pcddef.TreeID, error) {
	id, ok := s.rules.Trees[name]
	if !ok {
		return 0, fmt.Errorf("tree %s not found", name)
	}
	return id, nil
}

func (s *session) nodeIndex(name, index string) (id pcddef.NodeID, i int, e error) {
	if id, e = s.node(name); e != nil {
		return
	}
	i, e = strconv.Atoi(index)
	return
}

// nodeKey parses a key literal and an optional mask against the extraction of a node.
func (s *session) nodeKey(id pcddef.NodeID, key, mask string) (k, m []byte, e error) {
	info, e := s.reg.NodeInfo(id)
	if e != nil {
		return nil, nil, e
	}
	res, e := info.Extraction.Resolve()
	if e != nil {
		return nil, nil, e
	}
	if k, m, e = pcdrules.Literal(key).Bytes(res.Size); e != nil {
		return nil, nil, e
	}
	if mask != "" {
		m, e = pcdrules.ParseMask(mask, res.Size)
	}
	return k, m, e
}

// action parses an action written in rule set syntax, in YAML or JSON.
func (s *session) action(input string) (act pcddef.Action, e error) {
	var ar pcdrules.ActionRule
	j, e := yaml.YAMLToJSON([]byte(input))
	if e != nil {
		return act, fmt.Errorf("%w: %v", pcddef.ErrConfig, e)
	}
	if e = jsonhelper.Decode(j, &ar, jsonhelper.DisallowUnknownFields); e != nil {
		return act, fmt.Errorf("%w: %v", pcddef.ErrConfig, e)
	}
	return s.rules.Action(ar)
}

// runScript executes script commands line by line, stopping at the first failure.
func runScript(s *session, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	for lineNo := 1; scanner.Scan(); lineNo++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		words, e := shellquote.Split(line)
		if e != nil {
			return fmt.Errorf("line %d: %w", lineNo, e)
		}

		cmd, ok := scriptCommands[words[0]]
		if !ok {
			return fmt.Errorf("line %d: unknown command %s", lineNo, words[0])
		}
		args := words[1:]
		if len(args) < cmd.minArgs || len(args) > cmd.maxArgs {
			return fmt.Errorf("line %d: usage: %s %s", lineNo, words[0], cmd.usage)
		}
		if e := cmd.run(s, w, args); e != nil {
			return fmt.Errorf("line %d: %s: %w", lineNo, words[0], e)
		}
		logger.Debug("script command", zap.Int("line", lineNo), zap.Strings("words", words))
	}
	return scanner.Err()
}

func init() {
	var scriptFile string
	defineCommand(&cli.Command{
		Name:  "script",
		Usage: "Run runtime modification commands against compiled rules",
		Flags: []cli.Flag{
			&cli.PathFlag{
				Name:        "f",
				Usage:       "script `file`, - for stdin",
				Value:       "-",
				Destination: &scriptFile,
			},
			&cli.BoolFlag{
				Name:  "dump",
				Usage: "print descriptors after the script",
			},
		},
		Action: func(c *cli.Context) error {
			s, e := openSession()
			if e != nil {
				return e
			}
			defer must.Close(s)

			r := io.Reader(os.Stdin)
			if scriptFile != "-" {
				f, e := os.Open(scriptFile)
				if e != nil {
					return e
				}
				defer f.Close()
				r = f
			}
			if e := runScript(s, r, os.Stdout); e != nil {
				return e
			}
			if c.Bool("dump") {
				return printCompiled(os.Stdout, s, false)
			}
			return nil
		},
	})
}
