// Package reminder is the scheduling and delivery engine.
//
// Three independent loops share a RouteState and an EventStore:
//
//   - EventScheduler delivers one-shot events once their due time passed.
//   - DailyScheduler sends fixed notifications at configured minutes,
//     at most once per slot and calendar date.
//   - ScreenshotScheduler periodically captures the desktop and announces it.
//
// Every loop is driven by Run with an injectable clock, and every tick
// contains its own failures: an error ends the tick, never the loop.
package reminder
