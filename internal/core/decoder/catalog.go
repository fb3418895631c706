package decoder

import "firestige.xyz/otrace/internal/core"

// Counts come off the wire, so preallocation is capped and slices grow past it on demand.
const maxPrealloc = 256

// DecodeCatalog reads the Modules, Libraries and Symbols tables, in that order.
// The catalog is returned only once all three tables are complete.
// End of stream anywhere inside is KindCatalogIncomplete.
func DecodeCatalog(f *FrameReader) (core.Catalog, error) {
	var c core.Catalog
	var err error
	if c.Modules, err = decodeModules(f); err != nil {
		return core.Catalog{}, promote(err, core.KindCatalogIncomplete)
	}
	if c.Libraries, err = decodeLibraries(f); err != nil {
		return core.Catalog{}, promote(err, core.KindCatalogIncomplete)
	}
	if c.Symbols, err = decodeSymbols(f); err != nil {
		return core.Catalog{}, promote(err, core.KindCatalogIncomplete)
	}
	return c, nil
}

func decodeModules(f *FrameReader) ([]core.ModuleDescriptor, error) {
	count, err := f.U32()
	if err != nil {
		return nil, err
	}
	out := make([]core.ModuleDescriptor, 0, min(count, maxPrealloc))
	for range count {
		var m core.ModuleDescriptor
		if m.ModuleID, err = f.U16(); err != nil {
			return nil, err
		}
		if m.VersionMajor, err = f.U8(); err != nil {
			return nil, err
		}
		if m.VersionMinor, err = f.U8(); err != nil {
			return nil, err
		}
		if m.Name, err = f.String(); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func decodeLibraries(f *FrameReader) ([]core.LibraryDescriptor, error) {
	count, err := f.U32()
	if err != nil {
		return nil, err
	}
	out := make([]core.LibraryDescriptor, 0, min(count, maxPrealloc))
	for range count {
		var l core.LibraryDescriptor
		if l.LibraryID, err = f.U16(); err != nil {
			return nil, err
		}
		if l.Version, err = f.U16(); err != nil {
			return nil, err
		}
		if l.Name, err = f.String(); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, nil
}

func decodeSymbols(f *FrameReader) ([]core.SymbolDescriptor, error) {
	count, err := f.U32()
	if err != nil {
		return nil, err
	}
	out := make([]core.SymbolDescriptor, 0, min(count, maxPrealloc))
	for range count {
		var s core.SymbolDescriptor
		if s.Name, err = f.String(); err != nil {
			return nil, err
		}
		if s.LibraryID, err = f.U8(); err != nil {
			return nil, err
		}
		if s.ModuleID, err = f.U8(); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}
