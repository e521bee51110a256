// Package session orchestrates one voice conversation from room join to
// teardown.
//
// An Orchestrator owns the turn-taking state machine, the append-only
// transcript, and the pipeline components (activity detection, transcription,
// reply planning, synthesis). Audio frames and room events are serialized on
// a per-session queue; the speech-start signal bypasses the queue so an
// interrupt is observed immediately, cancelling any reply being generated or
// spoken.
//
// Pipeline failures are classified transient or permanent. Transient faults
// get a bounded retry of the failing operation; permanent faults, and
// transient ones that exhaust their retries, fail the current turn only. The
// session keeps listening either way.
//
// Basic use:
//
//	o, err := session.New(session.Config{
//		RoomID:       roomID,
//		SystemPrompt: instructions,
//		Greeting:     greeting,
//		Pipeline:     bundle,
//		Sink:         sink,
//	})
//	if err != nil {
//		return err
//	}
//	if err := o.Start(ctx); err != nil {
//		return err
//	}
//	defer o.OnDisconnect()
package session
