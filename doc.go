// Package infinario is a client for the Infinario tracking collector.
//
// A Tracker turns customer and event calls into JSON commands and posts them
// to the collector one at a time, in call order:
//
//	t, err := infinario.New(token)
//	if err != nil {
//		return err
//	}
//	defer t.Close()
//
//	t.Track("level_started", map[string]any{"level": 3}, nil)
//	t.Identify("alice@example.com", func(resp requests.Response) {
//		if !infinario.Confirmed(resp) {
//			log.Printf("identify failed: %s", resp.Status)
//		}
//	})
//
// Until Identify is called commands are keyed on an anonymous cookie derived
// from the host. Identify switches to the registered id immediately and
// sends a merge command carrying both ids. When the collector does not
// confirm the merge the tracker returns to the cookie.
//
// Callbacks run on transport goroutines, once per command. Commands still
// queued when Close is called complete with requests.KilledError.
package infinario
