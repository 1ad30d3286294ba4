// Command freed-replay feeds FreeD datagrams to a running service for
// testing without a tracker on the network.
//
// By default it synthesises a circular dolly move around the origin. With
// -pcap it replays the UDP payloads of a capture file instead, preserving
// the recorded packet spacing.
//
// Usage:
//
//	go run ./cmd/tools/freed-replay [flags]
//
// Flags:
//
//	-target   Destination address (default: 127.0.0.1:40000)
//	-rate     Synthetic packets per second (default: 60)
//	-count    Synthetic packets to send, 0 for unlimited (default: 0)
//	-camera   FreeD camera id stamped on synthetic packets (default: 1)
//	-pcap     Capture file to replay instead of the synthetic move
//	-port     Only replay capture packets sent to this UDP port (default: all)
package main

import (
	"flag"
	"log"
	"math"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/magnopus-opensource/blackhole/internal/freed"
)

var (
	target   = flag.String("target", "127.0.0.1:40000", "Destination address")
	rate     = flag.Float64("rate", 60, "Synthetic packets per second")
	count    = flag.Int("count", 0, "Synthetic packets to send, 0 for unlimited")
	cameraID = flag.Int("camera", 1, "FreeD camera id for synthetic packets")
	pcapPath = flag.String("pcap", "", "Capture file to replay instead of the synthetic move")
	pcapPort = flag.Int("port", 0, "Only replay capture packets sent to this UDP port, 0 for all")
)

func main() {
	flag.Parse()

	conn, err := net.Dial("udp", *target)
	if err != nil {
		log.Fatalf("Failed to dial %s: %v", *target, err)
	}
	defer conn.Close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	if *pcapPath != "" {
		replayCapture(conn, *pcapPath, sigCh)
		return
	}
	sendSynthetic(conn, sigCh)
}

// sendSynthetic streams a circular dolly move: the camera orbits the origin
// at 3m radius, 1.5m height, panning to keep the origin in frame.
func sendSynthetic(conn net.Conn, sigCh <-chan os.Signal) {
	log.Printf("Sending synthetic FreeD move to %s at %.0f pkt/s", *target, *rate)

	ticker := time.NewTicker(time.Duration(float64(time.Second) / *rate))
	defer ticker.Stop()

	const (
		radius = 3000.0 // mm
		height = 1500.0 // mm
		period = 20.0   // seconds per orbit
	)

	sent := 0
	start := time.Now()
	for {
		select {
		case <-sigCh:
			log.Printf("Stopped after %d packet(s)", sent)
			return
		case <-ticker.C:
		}

		angle := 2 * math.Pi * time.Since(start).Seconds() / period
		packet := &freed.Packet{
			CameraID: *cameraID,
			Pan:      math.Mod(angle*180/math.Pi+180, 360) - 180,
			Tilt:     -15,
			PosX:     radius * math.Cos(angle),
			PosY:     radius * math.Sin(angle),
			PosZ:     height,
		}
		if _, err := conn.Write(freed.Encode(packet)); err != nil {
			log.Fatalf("Send failed: %v", err)
		}

		sent++
		if *count > 0 && sent >= *count {
			log.Printf("Sent %d packet(s)", sent)
			return
		}
	}
}

// replayCapture resends every UDP payload in the capture file, sleeping out
// the recorded inter-packet gaps.
func replayCapture(conn net.Conn, path string, sigCh <-chan os.Signal) {
	f, err := os.Open(path)
	if err != nil {
		log.Fatalf("Failed to open capture: %v", err)
	}
	defer f.Close()

	r, err := pcapgo.NewReader(f)
	if err != nil {
		log.Fatalf("Failed to read capture %s: %v", path, err)
	}

	log.Printf("Replaying %s to %s", path, *target)

	var last time.Time
	sent := 0
	source := gopacket.NewPacketSource(r, r.LinkType())
	for packet := range source.Packets() {
		select {
		case <-sigCh:
			log.Printf("Stopped after %d packet(s)", sent)
			return
		default:
		}

		udpLayer := packet.Layer(layers.LayerTypeUDP)
		if udpLayer == nil {
			continue
		}
		udp := udpLayer.(*layers.UDP)
		if *pcapPort != 0 && int(udp.DstPort) != *pcapPort {
			continue
		}
		if len(udp.Payload) == 0 {
			continue
		}

		ts := packet.Metadata().Timestamp
		if !last.IsZero() && ts.After(last) {
			time.Sleep(ts.Sub(last))
		}
		last = ts

		if _, err := conn.Write(udp.Payload); err != nil {
			log.Fatalf("Send failed: %v", err)
		}
		sent++
	}

	log.Printf("Replayed %d packet(s)", sent)
}
