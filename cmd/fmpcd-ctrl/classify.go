package main

import (
	"errors"
	"io"
	"os"

	"github.com/fmpcd/fmpcd/container/pcd/pcdlookup"
	"github.com/google/gopacket"
	"github.com/google/gopacket/pcapgo"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go4.org/must"
)

type packetVerdict struct {
	Packet  int               `json:"packet"`
	Verdict pcdlookup.Verdict `json:"verdict"`
}

type keyCounter struct {
	Node    string `json:"node"`
	Key     int    `json:"key"`
	Counter uint32 `json:"counter"`
}

// openCapture opens a pcap or pcapng file.
func openCapture(f *os.File) (gopacket.PacketDataSource, error) {
	if r, e := pcapgo.NewReader(f); e == nil {
		return r, nil
	}
	if _, e := f.Seek(0, io.SeekStart); e != nil {
		return nil, e
	}
	return pcapgo.NewNgReader(f, pcapgo.DefaultNgReaderOptions)
}

func classifyPackets(w io.Writer, s *session, walker *pcdlookup.Walker, src gopacket.PacketDataSource, treeName string, group int) (n int, e error) {
	tree, e := s.tree(treeName)
	if e != nil {
		return 0, e
	}

	for ; ; n++ {
		frame, _, e := src.ReadPacketData()
		if errors.Is(e, io.EOF) {
			return n, nil
		}
		if e != nil {
			return n, e
		}

		v, e := walker.ClassifyFrame(tree, group, s.rules.Env, frame)
		if e != nil {
			logger.Warn("classify error", zap.Int("packet", n), zap.Error(e))
			continue
		}
		if e := printJSON(w, packetVerdict{n, v}); e != nil {
			return n, e
		}
	}
}

func printCounters(w io.Writer, s *session) error {
	for _, name := range s.rules.NodeNames() {
		id := s.rules.Nodes[name]
		info, e := s.reg.NodeInfo(id)
		if e != nil {
			return e
		}
		for i, k := range info.Keys {
			if !k.Action.Statistics {
				continue
			}
			cnt, e := s.reg.GetKeyCounter(id, i)
			if e != nil {
				return e
			}
			if e := printJSON(w, keyCounter{name, i, cnt}); e != nil {
				return e
			}
		}
	}
	return nil
}

func init() {
	var (
		captureFile string
		treeName    string
		group       int
		walkerCfg   pcdlookup.Config
	)
	defineCommand(&cli.Command{
		Name:  "classify",
		Usage: "Classify packets of a capture file through a compiled tree",
		Flags: []cli.Flag{
			&cli.PathFlag{
				Name:        "pcap",
				Usage:       "pcap or pcapng `file`",
				Destination: &captureFile,
				Required:    true,
			},
			&cli.StringFlag{
				Name:        "tree",
				Usage:       "tree `name`",
				Destination: &treeName,
				Required:    true,
			},
			&cli.IntFlag{
				Name:        "group",
				Usage:       "tree group `index`",
				Destination: &group,
			},
			&cli.IntFlag{
				Name:        "cache",
				Usage:       "verdict cache `capacity`, negative to disable",
				Destination: &walkerCfg.CacheCapacity,
			},
		},
		Action: func(c *cli.Context) error {
			s, e := openSession()
			if e != nil {
				return e
			}
			defer must.Close(s)

			walker, e := pcdlookup.New(s.mem, s.reg, walkerCfg)
			if e != nil {
				return e
			}

			f, e := os.Open(captureFile)
			if e != nil {
				return e
			}
			defer f.Close()
			src, e := openCapture(f)
			if e != nil {
				return e
			}

			n, e := classifyPackets(os.Stdout, s, walker, src, treeName, group)
			logger.Info("classified", zap.Int("packets", n))
			if e != nil {
				return e
			}
			return printCounters(os.Stdout, s)
		},
	})
}
