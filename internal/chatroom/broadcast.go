package chatroom

import "sync"

// Broadcast sends payload to every open connection except exclude and waits
// for all sends to settle. Connections that are not open or whose send
// fails are unregistered afterwards; their ids are returned.
func Broadcast(reg *Registry, payload []byte, exclude string) []string {
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed []string
	)

	mark := func(id string) {
		mu.Lock()
		failed = append(failed, id)
		mu.Unlock()
	}

	for id, s := range reg.All() {
		if exclude != "" && id == exclude {
			continue
		}
		if s.State() != StateOpen {
			mark(id)
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Send(payload); err != nil {
				mark(id)
			}
		}()
	}
	wg.Wait()

	for _, id := range failed {
		reg.Unregister(id)
	}
	return failed
}
