package config

import (
	"context"
	"time"

	"github.com/brutella/hc/log"
	"github.com/radovskyb/watcher"
)

// Watch polls the file at path every interval and calls onChange with the
// reloaded configuration after each write. Invalid files are logged and
// skipped. Watch blocks until ctx is done.
func Watch(ctx context.Context, path string, interval time.Duration, onChange func(*Config)) error {
	w := watcher.New()
	w.SetMaxEvents(1)
	w.FilterOps(watcher.Write, watcher.Create)

	if err := w.Add(path); err != nil {
		return err
	}

	go func() {
		for {
			select {
			case ev := <-w.Event:
				log.Debug.Println("Configuration changed:", ev)
				c, err := Load(path)
				if err != nil {
					log.Info.Println("Reload configuration:", err)
					continue
				}
				log.Info.Printf("Configuration %s reloaded", path)
				onChange(c)
			case err := <-w.Error:
				log.Info.Println("Watch configuration:", err)
			case <-w.Closed:
				return
			}
		}
	}()

	go func() {
		<-ctx.Done()
		w.Wait()
		w.Close()
	}()

	return w.Start(interval)
}
