package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/fmpcd/fmpcd/container/muram"
	"github.com/fmpcd/fmpcd/container/pcd"
	"github.com/fmpcd/fmpcd/container/pcd/pcddef"
	"github.com/fmpcd/fmpcd/container/pcd/pcdrules"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// session holds a registry populated from the rule set.
type session struct {
	mem   *muram.Muram
	reg   *pcd.Registry
	rules *pcdrules.Compiled
}

func openSession() (s *session, e error) {
	doc, e := pcdrules.Load(rulesFile)
	if e != nil {
		return nil, fmt.Errorf("load %s: %w", rulesFile, e)
	}

	s = &session{mem: muram.New(memCfg)}
	s.reg = pcd.New(s.mem, regCfg)
	if s.rules, e = pcdrules.Compile(s.reg, doc); e != nil {
		return nil, e
	}
	logger.Debug("session opened", zap.String("rules", rulesFile), zap.Any("usage", s.mem.Usage()))
	return s, nil
}

// Close releases tree locks and port bindings, then deletes compiled objects.
func (s *session) Close() (e error) {
	var trees []pcd.TreeInfo
	for _, id := range s.rules.Trees {
		info, e2 := s.reg.TreeInfo(id)
		if errors.Is(e2, pcddef.ErrNotFound) {
			continue
		}
		if e2 != nil {
			e = multierr.Append(e, e2)
			continue
		}
		if info.LockOwner {
			e = multierr.Append(e, s.reg.ReleaseLock(id))
		}
		trees = append(trees, info)
	}
	for _, info := range trees {
		for _, port := range info.Ports {
			e = multierr.Append(e, s.reg.UnbindFromPort(info.ID, port.ID))
		}
	}
	e = multierr.Append(e, s.rules.Close())
	if u := s.mem.Usage(); u.Allocs != 0 {
		e = multierr.Append(e, fmt.Errorf("%d MURAM allocations leaked", u.Allocs))
	}
	return e
}

func (s *session) tree(name string) (pcd.TreeInfo, error) {
	id, ok := s.rules.Trees[name]
	if !ok {
		return pcd.TreeInfo{}, fmt.Errorf("tree %s not found", name)
	}
	return s.reg.TreeInfo(id)
}

func printJSON(w io.Writer, value any) error {
	j, e := json.Marshal(value)
	if e != nil {
		return e
	}
	_, e = fmt.Fprintln(w, string(j))
	return e
}
