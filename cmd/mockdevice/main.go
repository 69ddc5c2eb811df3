// mockdevice эмулирует датчик: пишет строки телеметрии в последовательный порт
// (обычно одну сторону пары виртуальных портов, например socat или com0com).
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"

	"sensorlink/internal/domain/models"
	"sensorlink/internal/infrastructure/serialport"
	"sensorlink/internal/service/decoder"
)

func main() {
	if err := run(); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "mockdevice: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	fs := pflag.NewFlagSet("mockdevice", pflag.ContinueOnError)
	var (
		port     = fs.StringP("port", "p", "", "serial port to write to (required unless --stdout)")
		baud     = fs.Int("baud", 9600, "baud rate")
		variant  = fs.String("variant", string(decoder.VariantKeyValue), "line format: keyvalue or positional")
		interval = fs.Duration("interval", time.Second, "delay between lines")
		count    = fs.Int("count", 0, "number of lines to send, 0 - until interrupted")
		enc      = fs.String("encoding", "utf-8", "output character encoding")
		partial  = fs.Bool("partial", false, "keyvalue: send only changed fields")
		toStdout = fs.Bool("stdout", false, "write to stdout instead of a serial port")
		seed     = fs.Int64("seed", time.Now().UnixNano(), "random seed")
	)
	if err := fs.Parse(os.Args[1:]); err != nil {
		return err
	}

	v, err := decoder.ParseVariant(*variant)
	if err != nil {
		return err
	}
	e, err := htmlindex.Get(*enc)
	if err != nil {
		return fmt.Errorf("unknown encoding %q: %w", *enc, err)
	}

	var out io.Writer
	if *toStdout {
		out = os.Stdout
	} else {
		if *port == "" {
			return errors.New("--port is required")
		}
		p, err := serialport.OpenPort(*port, *baud)
		if err != nil {
			return err
		}
		defer p.Close()
		out = p
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sim := newSimulator(rand.New(rand.NewSource(*seed)), v)
	return emit(ctx, out, e, v, sim, *interval, *count, *partial)
}

// emit пишет строки с заданным интервалом до отмены ctx или отправки count строк
func emit(ctx context.Context, out io.Writer, e encoding.Encoding, v decoder.Variant, sim *simulator, interval time.Duration, count int, partial bool) error {
	encoder := e.NewEncoder()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for sent := 0; count == 0 || sent < count; sent++ {
		r, changed := sim.next()

		var line string
		if v == decoder.VariantKeyValue && partial {
			line = decoder.EncodeKeyValue(r, changed...)
		} else {
			line = decoder.Encode(v, r)
		}

		data, err := encoder.String(line + "\r\n")
		if err != nil {
			return fmt.Errorf("encode line: %w", err)
		}
		if _, err := io.WriteString(out, data); err != nil {
			return fmt.Errorf("write line: %w", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
	return nil
}

// simulator генерирует правдоподобные показания с медленным дрейфом.
// В позиционном формате свет и уровни звука - флаги 0/1, влажность - проценты с десятыми.
type simulator struct {
	rnd        *rand.Rand
	positional bool
	step       int
	state      models.Reading
}

func newSimulator(rnd *rand.Rand, v decoder.Variant) *simulator {
	s := &simulator{
		rnd:        rnd,
		positional: v == decoder.VariantPositional,
		state:      models.Reading{Temperature: 22.5, Humidity: 45, Light: 300},
	}
	if s.positional {
		s.state.Light = 1
	}
	return s
}

// next возвращает новое показание и поля, изменившиеся с прошлого шага
func (s *simulator) next() (models.Reading, []models.Field) {
	s.step++
	prev := s.state
	r := prev

	r.Temperature = math.Round((22.5+3*math.Sin(float64(s.step)/30)+s.rnd.Float64()*0.4)*10) / 10
	r.FireAlarm = r.Temperature > 25.3
	if s.positional {
		r.Humidity = math.Round(s.rnd.Float64()*1000) / 10
		r.Light = s.rnd.Intn(2)
		r.Sound1 = s.rnd.Intn(2)
		r.Sound2 = s.rnd.Intn(2)
		r.SoundAlarm = s.rnd.Intn(2) == 1
	} else {
		r.Humidity = float64(40 + s.rnd.Intn(20))
		r.Light = 250 + s.rnd.Intn(100)
		r.Sound1 = s.rnd.Intn(600)
		r.Sound2 = s.rnd.Intn(600)
		r.SoundAlarm = r.Sound1 > 500 || r.Sound2 > 500
	}
	s.state = r

	var changed []models.Field
	if s.step == 1 {
		return r, models.AllFields()
	}
	if r.Temperature != prev.Temperature {
		changed = append(changed, models.FieldTemperature)
	}
	if r.Humidity != prev.Humidity {
		changed = append(changed, models.FieldHumidity)
	}
	if r.Light != prev.Light {
		changed = append(changed, models.FieldLight)
	}
	if r.FireAlarm != prev.FireAlarm {
		changed = append(changed, models.FieldFire)
	}
	if r.Sound1 != prev.Sound1 {
		changed = append(changed, models.FieldSound1)
	}
	if r.Sound2 != prev.Sound2 {
		changed = append(changed, models.FieldSound2)
	}
	if r.SoundAlarm != prev.SoundAlarm {
		changed = append(changed, models.FieldSoundAlarm)
	}
	return r, changed
}
