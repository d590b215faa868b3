// Package grid provides the per-station bucket-sorted spatial index used to
// find hit candidates inside a search window.
//
// A Grid is built once per station per event: StoreHits counting-sorts hit
// indices by bin into a flat Entries slice with a FirstBinEntry offset array
// (len = bins+1). AreaIterator walks the bins covering a rectangle row by
// row and yields entries in storage order.
//
// Key types: Grid, Bounds, AreaIterator.
package grid
