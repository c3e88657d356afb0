// Package viz draws the cart-pole in the terminal.
//
// Drawing is done on a braille [Canvas] through a [Scene] that maps world
// meters to sub-pixels. Two Bubble Tea programs are built on it:
//
//   - [TrainModel]: live view of a training run, fed by a [Feed]
//   - [PlayModel]: replay of a recorded evaluation episode
//
// The trainer never blocks on the renderer. [Feed] keeps only the latest
// snapshot and drops iteration summaries when the view falls behind.
//
// # Key Bindings
//
//	Q     - Stop training (train) / quit (play)
//	T     - Cycle color themes
//	Space - Pause/Resume replay
//	R     - Restart replay
//	[ ]   - Scrub replay backwards/forwards
package viz
