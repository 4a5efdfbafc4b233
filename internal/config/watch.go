package config

import (
	"context"
	"os"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// WatchPolicy следит за файлом политики и вызывает onChange с новым профилем
// после каждой записи. Работает до отмены ctx.
//
// Если перечитать не удалось (например, сломанный YAML), ошибка логируется
// и остается действовать прежняя политика.
func WatchPolicy(ctx context.Context, path, profile string, log zerolog.Logger, onChange func(*Policy)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return err
	}

	log = log.With().Str("component", "policy_watch").Str("path", path).Logger()
	log.Info().Msg("Watching policy for changes")

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			// Редакторы часто сохраняют через rename, поэтому ловим и Create
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			data, err := os.ReadFile(path)
			if err != nil {
				log.Error().Err(err).Msg("Policy reload failed, keeping previous policy")
				continue
			}
			policy, err := ParsePolicy(data, profile)
			if err != nil {
				log.Error().Err(err).Msg("Policy reload failed, keeping previous policy")
				continue
			}

			log.Info().Str("profile", policy.ProfileName).Bool("halt", policy.Halt).Msg("Policy reloaded")
			onChange(policy)

			// inode мог смениться после атомарного сохранения
			_ = watcher.Add(path)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Error().Err(err).Msg("Policy watcher error")
		}
	}
}
