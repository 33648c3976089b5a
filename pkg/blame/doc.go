// Package blame attributes every tracked line of a branch to the author who
// last touched it.
//
// A [Blame] is built by running one worker per accepted file over a bounded
// pool. Each worker streams the file's line-porcelain blame output, turns it
// into per-line attribution events, drops boundary, unknown-author and
// filtered lines, and folds the rest into the shared (author, file) map under
// a single mutex. A failing file never blocks the others.
package blame
