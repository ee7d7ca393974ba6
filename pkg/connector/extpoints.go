// Copyright (c) 2018 PT Defender Nusa Semesta and contributors, All rights reserved.
//
// This file is part of Dpull.
//
// Dpull is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation version 3 of the License.
//
// Dpull is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with Dpull. If not, see <https://www.gnu.org/licenses/>.

package connector

import (
	"sort"
	"sync"
)

type extensionPoint struct {
	sync.Mutex
	extensions map[string]Factory
}

func newExtensionPoint() *extensionPoint {
	return &extensionPoint{
		extensions: make(map[string]Factory),
	}
}

func (ep *extensionPoint) lookup(name string) Factory {
	ep.Lock()
	defer ep.Unlock()
	ext, ok := ep.extensions[name]
	if !ok {
		return nil
	}
	return ext
}

func (ep *extensionPoint) all() map[string]Factory {
	ep.Lock()
	defer ep.Unlock()
	all := make(map[string]Factory)
	for k, v := range ep.extensions {
		all[k] = v
	}
	return all
}

func (ep *extensionPoint) register(extension Factory, name string) bool {
	ep.Lock()
	defer ep.Unlock()
	if name == "" || extension == nil {
		return false
	}
	_, exists := ep.extensions[name]
	if exists {
		return false
	}
	ep.extensions[name] = extension
	return true
}

func (ep *extensionPoint) unregister(name string) bool {
	ep.Lock()
	defer ep.Unlock()
	_, exists := ep.extensions[name]
	if !exists {
		return false
	}
	delete(ep.extensions, name)
	return true
}

// Factories represent the Factory extensionPoint. Plugins register
// themselves here from their init function.
var Factories = &factoryExt{
	newExtensionPoint(),
}

type factoryExt struct {
	*extensionPoint
}

func (ep *factoryExt) Unregister(name string) bool {
	return ep.unregister(name)
}

func (ep *factoryExt) Register(extension Factory, name string) bool {
	return ep.register(extension, name)
}

func (ep *factoryExt) Lookup(name string) Factory {
	return ep.lookup(name)
}

func (ep *factoryExt) All() map[string]Factory {
	return ep.all()
}

// Names returns the registered plugin names in sorted order
func (ep *factoryExt) Names() []string {
	var names []string
	for k := range ep.all() {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
