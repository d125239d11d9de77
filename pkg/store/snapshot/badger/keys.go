package badger

import (
	"encoding/binary"
	"fmt"
)

// Database Key Namespace Design
// ==============================
//
// A snapshot is stored as one key per entity under a generation prefix.
// Saving writes a complete new generation, then flips a single pointer key
// to it inside one transaction, then deletes the older generations. Readers
// follow the pointer, so they always see one complete generation.
//
// Key Namespace:
//
// Data Type          Key Format                           Value Type
// ===================================================================
// Current pointer    snap:current                         generation (uint64 BE)
// Header             snap:<gen>:h                         header (JSON)
// Folder             snap:<gen>:d:<position>              drive.Folder (JSON)
// File               snap:<gen>:f:<position>              drive.File (JSON)
//
// <gen> is 16 hex digits and <position> 10 decimal digits, both zero padded
// so that badger's lexicographic key order is numeric order. Iterating a
// prefix therefore yields entities in their original insertion order.

const (
	keyRoot    = "snap:"
	keyCurrent = "snap:current"
)

func generationPrefix(gen uint64) []byte {
	return []byte(fmt.Sprintf("%s%016x:", keyRoot, gen))
}

func headerKey(gen uint64) []byte {
	return append(generationPrefix(gen), 'h')
}

func folderPrefix(gen uint64) []byte {
	return append(generationPrefix(gen), 'd', ':')
}

func filePrefix(gen uint64) []byte {
	return append(generationPrefix(gen), 'f', ':')
}

func folderKey(gen uint64, pos int) []byte {
	return append(folderPrefix(gen), []byte(fmt.Sprintf("%010d", pos))...)
}

func fileKey(gen uint64, pos int) []byte {
	return append(filePrefix(gen), []byte(fmt.Sprintf("%010d", pos))...)
}

func encodeGeneration(gen uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, gen)
	return buf
}

func decodeGeneration(buf []byte) (uint64, error) {
	if len(buf) != 8 {
		return 0, fmt.Errorf("invalid generation value of %d bytes", len(buf))
	}
	return binary.BigEndian.Uint64(buf), nil
}
