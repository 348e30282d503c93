package assets

import (
	"image"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/fsnotify/fsnotify"
	"github.com/spaghettifunk/automata/engine/assets/loaders"
	"github.com/spaghettifunk/automata/engine/core"
)

const shaderExt = ".spv"

type shaderEntry struct {
	Path       string
	Code       []uint32
	LastLoaded time.Time
}

// ShaderLibrary holds compiled SPIR-V modules keyed by their name without
// the .spv suffix ("voxel.vert" for voxel.vert.spv). With Watch enabled,
// files written under the directory are reloaded in the background and the
// generation counter is bumped. It never talks to Vulkan itself.
type ShaderLibrary struct {
	dir    string
	loader Loader

	mutex      sync.RWMutex
	shaders    map[string]*shaderEntry
	generation uint64

	fsnotify *fsnotify.Watcher
	done     chan struct{}
	wg       sync.WaitGroup
	isClosed bool
}

// NewShaderLibrary loads every module below dir. A module that fails to
// decode is logged and skipped.
func NewShaderLibrary(dir string) (*ShaderLibrary, error) {
	sl := &ShaderLibrary{
		dir:     dir,
		loader:  &loaders.ShaderLoader{},
		shaders: make(map[string]*shaderEntry),
		done:    make(chan struct{}),
	}
	err := filepath.Walk(dir, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !fi.IsDir() {
			sl.handleFileEvent(path)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "scanning shader directory %s", dir)
	}
	core.LogInfo("Shader library loaded %d modules from %s.", len(sl.shaders), dir)
	return sl, nil
}

// Watch starts reloading modified modules in the background.
func (sl *ShaderLibrary) Watch() error {
	if sl.isClosed {
		return errors.New("shader library already closed")
	}
	if sl.fsnotify != nil {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	sl.fsnotify = w
	if err := sl.watchRecursive(sl.dir); err != nil {
		w.Close()
		sl.fsnotify = nil
		return err
	}
	sl.wg.Add(1)
	go sl.start()
	return nil
}

func (sl *ShaderLibrary) Close() error {
	if sl.isClosed {
		return nil
	}
	sl.isClosed = true
	close(sl.done)
	sl.wg.Wait()
	return nil
}

// ShaderCode returns the bytecode of the named module.
func (sl *ShaderLibrary) ShaderCode(name string) ([]uint32, error) {
	sl.mutex.RLock()
	defer sl.mutex.RUnlock()
	e, ok := sl.shaders[name]
	if !ok {
		return nil, errors.Newf("shader %q not found in %s", name, sl.dir)
	}
	return e.Code, nil
}

// Generation changes every time a module was added, replaced or removed.
func (sl *ShaderLibrary) Generation() uint64 {
	sl.mutex.RLock()
	defer sl.mutex.RUnlock()
	return sl.generation
}

func (sl *ShaderLibrary) Names() []string {
	sl.mutex.RLock()
	defer sl.mutex.RUnlock()
	names := make([]string, 0, len(sl.shaders))
	for n := range sl.shaders {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (sl *ShaderLibrary) start() {
	defer sl.wg.Done()
	for {
		select {
		case e, ok := <-sl.fsnotify.Events:
			if !ok {
				return
			}
			s, err := os.Stat(e.Name)
			if err == nil && s.IsDir() {
				if e.Op&fsnotify.Create != 0 {
					if err := sl.watchRecursive(e.Name); err != nil {
						core.LogWarn("watching %s: %v", e.Name, err)
					}
				}
				continue
			}
			if e.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				sl.handleFileEvent(e.Name)
			}
			if e.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				sl.removeShader(e.Name)
			}

		case err, ok := <-sl.fsnotify.Errors:
			if !ok {
				return
			}
			core.LogError("shader watcher: %v", err)

		case <-sl.done:
			sl.fsnotify.Close()
			return
		}
	}
}

func (sl *ShaderLibrary) watchRecursive(path string) error {
	return filepath.Walk(path, func(walkPath string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() {
			return sl.fsnotify.Add(walkPath)
		}
		return nil
	})
}

func (sl *ShaderLibrary) shaderName(path string) (string, bool) {
	if filepath.Ext(path) != shaderExt {
		return "", false
	}
	rel, err := filepath.Rel(sl.dir, path)
	if err != nil {
		rel = filepath.Base(path)
	}
	return filepath.ToSlash(strings.TrimSuffix(rel, shaderExt)), true
}

// handleFileEvent loads a created or modified module. A file that does not
// decode leaves the previous version in place.
func (sl *ShaderLibrary) handleFileEvent(path string) {
	name, ok := sl.shaderName(path)
	if !ok {
		return
	}
	res, err := sl.loader.Load(path)
	if err != nil {
		core.LogWarn("skipping shader %s: %v", name, err)
		return
	}
	code, ok := res.Data.([]uint32)
	if !ok {
		core.LogError("shader loader returned %T for %s", res.Data, name)
		return
	}

	sl.mutex.Lock()
	defer sl.mutex.Unlock()
	sl.shaders[name] = &shaderEntry{
		Path:       path,
		Code:       code,
		LastLoaded: time.Now(),
	}
	sl.generation++
	core.LogDebug("Shader %s loaded (%d words), generation %d.", name, len(code), sl.generation)
}

func (sl *ShaderLibrary) removeShader(path string) {
	name, ok := sl.shaderName(path)
	if !ok {
		return
	}
	sl.mutex.Lock()
	defer sl.mutex.Unlock()
	if _, ok := sl.shaders[name]; !ok {
		return
	}
	delete(sl.shaders, name)
	sl.generation++
}

// LoadTexture decodes a picture from disk.
func LoadTexture(path string) (image.Image, error) {
	res, err := (&loaders.TextureLoader{}).Load(path)
	if err != nil {
		return nil, errors.Wrapf(err, "loading texture %s", path)
	}
	img, ok := res.Data.(image.Image)
	if !ok {
		return nil, errors.AssertionFailedf("texture loader returned %T", res.Data)
	}
	return img, nil
}
