// Command simfeed publishes synthetic sensor readings to the live MQTT feed
// so the engine can be exercised without field hardware. Values follow a
// bounded random walk per field; payloads use the same shapes real devices
// publish, including string-typed numbers with comma decimal separators.
//
// Usage:
//
//	go run ./cmd/simfeed \
//	  -broker tcp://broker.emqx.io:1883 \
//	  -base climbox \
//	  -locations kolam-1,kolam-2 \
//	  -interval 5s
package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// walker keeps one field's random walk inside its plausible range.
type walker struct {
	value, min, max, step float64
	commaDecimal          bool // publish as "29,5" the way some firmware does
}

func (w *walker) next() float64 {
	w.value += (rand.Float64()*2 - 1) * w.step
	if w.value < w.min {
		w.value = w.min
	}
	if w.value > w.max {
		w.value = w.max
	}
	return w.value
}

func (w *walker) format() string {
	s := fmt.Sprintf("%.1f", w.next())
	if w.commaDecimal {
		s = strings.Replace(s, ".", ",", 1)
	}
	return s
}

func newWalkers() map[string]*walker {
	return map[string]*walker{
		"Water Temp (C)": {value: 29, min: 24, max: 34, step: 0.4},
		"Air Temp (C)":   {value: 31, min: 25, max: 38, step: 0.5},
		"Humidity (%)":   {value: 78, min: 55, max: 98, step: 1.5},
		"pH":             {value: 7.6, min: 6.2, max: 9.0, step: 0.15, commaDecimal: true},
		"DO (mg/L)":      {value: 5.5, min: 3.0, max: 8.5, step: 0.3, commaDecimal: true},
		"TDS (ppm)":      {value: 420, min: 250, max: 700, step: 12},
		"Turbidity (NTU)": {value: 35, min: 5, max: 120, step: 4},
	}
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	broker := flag.String("broker", "tcp://broker.emqx.io:1883", "MQTT broker URL")
	base := flag.String("base", "climbox", "topic base")
	locations := flag.String("locations", "kolam-1", "comma-separated location IDs")
	interval := flag.Duration("interval", 5*time.Second, "publish interval")
	flag.Parse()

	locs := strings.Split(*locations, ",")
	for i := range locs {
		locs[i] = strings.TrimSpace(locs[i])
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(*broker).
		SetClientID(fmt.Sprintf("simfeed-%d", os.Getpid())).
		SetAutoReconnect(true)
	client := pahomqtt.NewClient(opts)

	token := client.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("connect %s: %w", *broker, err)
	}
	defer client.Disconnect(250)
	log.Printf("connected to %s, publishing every %s", *broker, *interval)

	walkers := make(map[string]map[string]*walker, len(locs))
	for _, loc := range locs {
		walkers[loc] = newWalkers()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	for {
		select {
		case <-sigCh:
			log.Println("stopping")
			return nil
		case <-ticker.C:
			for _, loc := range locs {
				topic := fmt.Sprintf("%s/%s/latest", *base, loc)
				payload := buildPayload(walkers[loc])
				t := client.Publish(topic, 0, false, payload)
				t.Wait()
				if err := t.Error(); err != nil {
					log.Printf("publish %s: %v", topic, err)
					continue
				}
				log.Printf("published %s: %s", topic, payload)
			}
		}
	}
}

// buildPayload emits the "data" container shape with a slash-date timestamp,
// matching what deployed loggers push.
func buildPayload(ws map[string]*walker) string {
	now := time.Now().UTC()
	var sb strings.Builder
	sb.WriteString(`{"data":[{"Timestamp":"`)
	sb.WriteString(fmt.Sprintf("%d/%d/%d %d:%02d:%02d",
		int(now.Month()), now.Day(), now.Year(), now.Hour(), now.Minute(), now.Second()))
	sb.WriteString(`"`)
	for field, w := range ws {
		sb.WriteString(fmt.Sprintf(`,%q:%q`, field, w.format()))
	}
	// Pump state flips rarely so threshold tests on numeric fields dominate.
	pump := "OFF"
	if rand.Intn(10) == 0 {
		pump = "ON"
	}
	sb.WriteString(fmt.Sprintf(`,"Pump":%q}]}`, pump))
	return sb.String()
}
