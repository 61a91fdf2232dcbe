// wavesend encodes payloads into a modem waveform and writes it to a WAV
// file. Payloads come from the command line (one data frame each) or from
// -file, which is split into MTU-sized frames. The output can be played
// over a real audio path and picked apart again with waverecv.
package main

import (
	"flag"
	"log"
	"os"

	"github.com/acoustlink/acoustlink/internal/audio"
	"github.com/acoustlink/acoustlink/internal/phy"
)

func main() {
	out := flag.String("out", "frames.wav", "output WAV file")
	file := flag.String("file", "", "file to transfer instead of argument payloads")
	src := flag.Uint("src", 1, "source address")
	dst := flag.Uint("dst", 2, "destination address")
	coding := flag.String("coding", "manchester", "line coding: manchester or 4b5b")
	spl := flag.Int("spl", 4, "samples per line coding level")
	pattern := flag.Int("pattern", 8, "preamble pattern bytes")
	gap := flag.Int("gap", 48, "inter-frame gap samples")
	rate := flag.Int("rate", 48000, "WAV sample rate")
	flag.Parse()

	var payloads [][]uint8
	if *file != "" {
		data, err := os.ReadFile(*file)
		if err != nil {
			log.Fatalf("wavesend: %v", err)
		}
		for start := 0; start < len(data); start += phy.MaxPayloadBytes {
			end := start + phy.MaxPayloadBytes
			if end > len(data) {
				end = len(data)
			}
			payloads = append(payloads, data[start:end])
		}
	} else {
		for _, arg := range flag.Args() {
			payloads = append(payloads, []uint8(arg))
		}
	}
	if len(payloads) == 0 {
		log.Fatal("wavesend: provide payload arguments or -file")
	}

	enc, err := phy.NewEncoder(phy.LineCodingKind(*coding), *spl, *pattern, *gap)
	if err != nil {
		log.Fatalf("wavesend: %v", err)
	}

	frames := make([]phy.Frame, 0, len(payloads))
	for i, payload := range payloads {
		frames = append(frames,
			phy.NewDataFrame(uint8(i%2), uint8(*src), uint8(*dst), payload))
	}

	samples, err := enc.EncodeFrames(frames)
	if err != nil {
		log.Fatalf("wavesend: %v", err)
	}

	if err := audio.WriteWAVFile(*out, samples, *rate); err != nil {
		log.Fatalf("wavesend: %v", err)
	}

	log.Printf("wavesend: wrote %d frames (%d samples) to %s", len(frames), len(samples), *out)
}
