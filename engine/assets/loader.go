package assets

import "github.com/spaghettifunk/automata/engine/assets/loaders"

type Loader interface {
	Load(path string) (*loaders.Resource, error)
}
