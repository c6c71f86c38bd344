package main

import (
	"Go2NetGuard/internal/config"
	"Go2NetGuard/internal/engine/protocol"
	"Go2NetGuard/internal/filter/malformed"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/google/gopacket/pcap"
	log "github.com/sirupsen/logrus"
)

// Prints the decoded header fields and the validator verdict of every
// packet in a capture file, without touching any log or output file.
func main() {
	limit := flag.Int("n", 0, "Stop after this many packets (0 = all)")
	onlyBad := flag.Bool("bad", false, "Print malformed packets only")
	flag.Parse()
	if flag.NArg() < 1 {
		fmt.Println("Usage: go run ./scripts/pcapana [-n N] [-bad] <path_to_pcap_file>")
		os.Exit(1)
	}

	handle, err := pcap.OpenOffline(flag.Arg(0))
	if err != nil {
		log.Fatal(err)
	}
	defer handle.Close()

	v := malformed.New(config.Default().Malformed, nil, nil)
	lt := handle.LinkType()
	reasons := map[string]int{}

	i := 0
	for *limit == 0 || i < *limit {
		data, ci, err := handle.ReadPacketData()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.WithError(err).Warn("Read failed")
			break
		}
		i++

		data, ok := protocol.Normalize(lt, data)
		if !ok {
			fmt.Printf("#%d %s unsupported link type %s\n", i, ci.Timestamp.Format("15:04:05.000000"), lt)
			continue
		}
		verdict := v.Check(data)
		if verdict.Malformed {
			reasons[verdict.Reason]++
		} else if *onlyBad {
			continue
		}

		line := fmt.Sprintf("#%d %s len=%d", i, ci.Timestamp.Format("15:04:05.000000"), ci.Length)
		if f, err := protocol.Decode(data); err == nil {
			ft := f.Tuple()
			line += fmt.Sprintf(" %s:%d -> %s:%d %s", ft.SrcIP, ft.SrcPort, ft.DstIP, ft.DstPort, protocol.ProtoLabel(ft.Protocol))
		} else {
			line += " " + err.Error()
		}
		if verdict.Malformed {
			line += fmt.Sprintf(" MALFORMED(%s/%s)", verdict.Label, verdict.Reason)
		}
		fmt.Println(line)
	}

	fmt.Printf("\n%d packets read\n", i)
	for reason, n := range reasons {
		fmt.Printf("  %-18s %d\n", reason, n)
	}
}
