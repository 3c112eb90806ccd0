// Package netcode keeps a deterministic, fixed-timestep simulation
// consistent between an authoritative server and predicting clients.
//
// The server runs the only true copy of the world. Clients run the same
// simulation ahead of the server, applying their own input immediately, and
// reconcile against the server's periodic snapshots: on divergence they roll
// back to the authoritative state and re-simulate their recorded commands.
// The visible remainder of a correction is blended away over a short window
// so corrections do not pop on screen.
//
// The simulation itself stays behind the World interface; the package never
// looks inside the state it snapshots, checksums, and restores.
package netcode
